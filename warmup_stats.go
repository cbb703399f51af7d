package mjpegcapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// CalculateFPSStats calculates FPS statistics from frame timestamps
//
// Stability threshold:
//   - FPS: stddev < 15% of mean FPS
//   - Jitter: mean jitter < 20% of expected interval
//
// Example: 30 FPS mean → stable if stddev < 4.5 AND jitter < 0.007s
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	return fromWarmupStats(warmup.CalculateFPSStats(frameTimes, totalDuration))
}

func fromWarmupStats(s *warmup.Stats) *WarmupStats {
	return &WarmupStats{
		FramesReceived: s.FramesReceived,
		Duration:       s.Duration,
		FPSMean:        s.FPSMean,
		FPSStdDev:      s.FPSStdDev,
		FPSMin:         s.FPSMin,
		FPSMax:         s.FPSMax,
		IsStable:       s.IsStable,
		JitterMean:     s.JitterMean,
		JitterStdDev:   s.JitterStdDev,
		JitterMax:      s.JitterMax,
	}
}
