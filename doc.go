// Package mjpegcapture provides MJPEG-over-HTTP stream acquisition from
// network cameras (DroidCam, IP Webcam, ESP32-CAM and similar).
//
// The camera answers a single GET with an unbounded body of concatenated
// JPEG images. This module keeps that connection alive against a flaky
// network, extracts complete frames from arbitrarily chunked bytes, and hands
// the newest decoded frame to a consumer that polls at display rate.
//
// # Quick Start
//
//	stream, err := mjpegcapture.NewMJPEGStream(mjpegcapture.MJPEGConfig{
//	    URL:          "http://192.168.0.101:4747/video",
//	    SourceStream: "droidcam",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := stream.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Stop()
//
//	ticker := time.NewTicker(16 * time.Millisecond)
//	defer ticker.Stop()
//	for range ticker.C {
//	    frame, ok := stream.TryLatest() // never blocks
//	    if !ok {
//	        continue // keep showing the previous frame, or "waiting"
//	    }
//	    render(frame.Width, frame.Height, frame.Data) // packed RGB
//	}
//
// # Frame Extraction
//
// Frames are found by scanning for the JPEG start (FF D8) and end (FF D9)
// markers, not by parsing the multipart boundary the server declares. Many
// cameras announce one boundary and send another; the markers are always
// there. Bytes before a start marker (part headers, boundaries) are dropped
// with the frame. A span that fails to decode is dropped too and scanning
// continues. The per-session buffer is capped at 1 MiB and cleared when a
// non-JPEG body pushes it past the cap.
//
// # Reconnection
//
//   - Every session ending (server closed, transport error, bad status,
//     stall) leads to a new session with a fresh buffer
//   - A session that produced no frame waits the current backoff, which then
//     doubles: 100ms, 200ms, 400ms ... capped at 5s
//   - A session that produced at least one frame resets the backoff to 100ms
//   - There is no retry limit
//
// A session that stays connected without producing a decodable frame for 5s
// is ended as stalled. Independently, if the consumer sees no new frame for
// 10s, the whole ingestion loop is cancelled, including any in-flight read,
// and restarted.
//
// # Frame Hand-off
//
// Decoded frames go into a single-slot mailbox. Publishing never blocks the
// ingestion goroutine; a frame not taken before the next one arrives is
// dropped (StreamStats.FramesDropped). TryLatest returns the newest frame or
// nothing. Connected() and FrameAge() are derived from when the consumer last
// received a frame.
//
// # Timeouts
//
//   - Request (dial + response headers): 60s
//   - TCP keepalive: 30s
//   - Stall (no decodable frame in an open session): 5s
//   - Liveness (no frame reached the consumer): 10s
//
// # Thread Safety
//
// All public methods are safe for concurrent use. TryLatest is intended for
// a single consumer goroutine.
//
// # Limitations
//
//   - Single stream per MJPEGStream instance
//   - No audio, no authentication
//   - Latest-wins delivery only: the consumer is not guaranteed every frame
package mjpegcapture
