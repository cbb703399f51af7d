package main

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

// frameSaver writes frames to disk, optionally downscaled.
type frameSaver struct {
	dir         string
	format      string
	jpegQuality int
	scale       float64
}

func (fs frameSaver) enabled() bool {
	return fs.dir != ""
}

func (fs frameSaver) save(frame *mjpegcapture.Frame) error {
	filename := fmt.Sprintf("frame_%06d_%s.%s", frame.Seq, frame.Timestamp.Format("20060102_150405.000"), fs.format)
	path := filepath.Join(fs.dir, filename)

	var img image.Image = rgbToRGBA(frame)
	if fs.scale < 1.0 {
		img = downscale(img, fs.scale)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch fs.format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: fs.jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", fs.format)
	}

	return nil
}

// rgbToRGBA expands packed RGB into an opaque RGBA image.
func rgbToRGBA(frame *mjpegcapture.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	n := frame.Width * frame.Height
	if len(frame.Data) < n*3 {
		n = len(frame.Data) / 3
	}
	for i := 0; i < n; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

func downscale(src image.Image, scale float64) image.Image {
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
