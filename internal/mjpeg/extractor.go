package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"iter"
	"log/slog"
)

// Image is a decoded frame: packed RGB, 3 bytes per pixel, row-major, no
// padding between rows.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Decoder turns one JPEG span into an Image.
type Decoder func(data []byte) (*Image, error)

// MaxPixels bounds the dimensions a frame header may declare. image/jpeg
// allocates the whole image from the SOF header before reading scan data, so
// a corrupt header must be rejected before Decode runs.
const MaxPixels = 4096 * 4096

// DecodeJPEG is the default Decoder, backed by image/jpeg.
func DecodeJPEG(data []byte) (*Image, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("decode jpeg: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return toRGB(img), nil
}

// toRGB packs any image.Image into 3-byte RGB.
func toRGB(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &Image{Width: w, Height: h, Pix: make([]byte, w*h*3)}

	i := 0
	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = r, g, bl
				i += 3
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := src.Pix[src.PixOffset(x, y)]
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = byte(r>>8), byte(g>>8), byte(bl>>8)
				i += 3
			}
		}
	}

	return out
}

// Extractor pulls decoded frames out of a Buffer.
//
// It holds no stream state between calls: everything that has not been
// consumed stays in the Buffer.
type Extractor struct {
	decode Decoder

	// Decoded and Failed count spans since the extractor was created.
	Decoded uint64
	Failed  uint64
}

// NewExtractor returns an extractor using decode, or DecodeJPEG when nil.
func NewExtractor(decode Decoder) *Extractor {
	if decode == nil {
		decode = DecodeJPEG
	}
	return &Extractor{decode: decode}
}

// Frames yields every frame that can be decoded from buf right now.
//
// Each candidate span is removed from buf whether or not it decodes, so a
// corrupt span is never rescanned. The sequence ends when buf holds no
// complete span; bytes from the last start marker onward stay buffered.
func (e *Extractor) Frames(buf *Buffer) iter.Seq[*Image] {
	return func(yield func(*Image) bool) {
		for {
			c, ok := buf.Next()
			if !ok {
				return
			}

			img, err := e.decode(c.JPEG)
			if err != nil {
				e.Failed++
				slog.Debug("mjpeg: discarding undecodable span",
					"size_bytes", len(c.JPEG),
					"stray_bytes", len(c.Stray),
					"error", err,
				)
				continue
			}

			e.Decoded++
			if !yield(img) {
				return
			}
		}
	}
}
