package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean. 30 FPS mean → stable if stddev < 4.5 FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected inter-frame interval. 30 FPS (33ms) → stable if jitter < 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats contains FPS statistics for a window of frame timestamps.
type Stats struct {
	FramesReceived int           // Number of frames in the window
	Duration       time.Duration // Window length
	FPSMean        float64       // Frames per second over the window
	FPSStdDev      float64       // Standard deviation of instantaneous FPS
	FPSMin         float64       // Minimum instantaneous FPS
	FPSMax         float64       // Maximum instantaneous FPS
	IsStable       bool          // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       // Mean deviation from the expected interval (seconds)
	JitterStdDev   float64       // Standard deviation of jitter (seconds)
	JitterMax      float64       // Maximum jitter observed (seconds)
}

// CalculateFPSStats computes FPS and jitter statistics from frame timestamps.
//
// FPSMean is frames/window, not the mean of instantaneous rates, so a gap at
// either end of the window lowers it. Zero-length intervals (two frames with
// the same timestamp) are skipped for the instantaneous FPS figures.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *Stats {
	n := len(frameTimes)
	stats := &Stats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, interval)
		if interval > 0 {
			rates = append(rates, 1.0/interval)
		}
	}
	if len(rates) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = minMax(rates)
	stats.FPSStdDev = stdDevAround(rates, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	for i, interval := range intervals {
		jitters[i] = math.Abs(interval - expected)
	}
	stats.JitterMean = mean(jitters)
	stats.JitterStdDev = stdDevAround(jitters, stats.JitterMean)
	_, stats.JitterMax = minMax(jitters)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDevAround(xs []float64, center float64) float64 {
	var sumSquares float64
	for _, x := range xs {
		d := x - center
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(xs)))
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}
