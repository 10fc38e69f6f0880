package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	// register decoders for the allowed image upload formats
	_ "image/gif"
	_ "image/jpeg"
)

const (
	binarizeThreshold = 140

	// Tesseract reads small scans poorly; anything under this edge
	// length is upscaled before preprocessing.
	ocrMinDimension = 300
)

// Preprocess applies the fixed OCR preparation pipeline: grayscale,
// autocontrast, sharpen, then a hard binary threshold at luminance
// 140. The order and constants are part of the extraction contract.
func Preprocess(src image.Image) *image.Gray {
	gray := toGray(src)
	autocontrast(gray)
	gray = sharpen(gray)
	binarize(gray, binarizeThreshold)
	return gray
}

func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// autocontrast stretches the histogram so the darkest pixel maps to 0
// and the brightest to 255.
func autocontrast(img *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, v := range img.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo >= hi {
		return
	}

	scale := 255.0 / float64(hi-lo)
	var lut [256]uint8
	for i := range lut {
		v := float64(i-int(lo))*scale + 0.5
		switch {
		case v < 0:
			lut[i] = 0
		case v > 255:
			lut[i] = 255
		default:
			lut[i] = uint8(v)
		}
	}
	for i, v := range img.Pix {
		img.Pix[i] = lut[v]
	}
}

// sharpen convolves the interior with the 3x3 kernel
// (-2 -2 -2 / -2 32 -2 / -2 -2 -2) / 16; border pixels pass through.
func sharpen(img *image.Gray) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	copy(out.Pix, img.Pix)

	w, h := bounds.Dx(), bounds.Dy()
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var sum int
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := int(img.Pix[(y+ky)*img.Stride+(x+kx)])
					if kx == 0 && ky == 0 {
						sum += 32 * v
					} else {
						sum += -2 * v
					}
				}
			}
			v := sum / 16
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}
	return out
}

func binarize(img *image.Gray, threshold uint8) {
	for i, v := range img.Pix {
		if v < threshold {
			img.Pix[i] = 0
		} else {
			img.Pix[i] = 255
		}
	}
}

// upscale doubles the image until both edges reach the minimum OCR
// size. Returns the input unchanged when it is already big enough.
func upscale(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 || (w >= ocrMinDimension && h >= ocrMinDimension) {
		return src
	}

	factor := 2
	for w*factor < ocrMinDimension || h*factor < ocrMinDimension {
		factor *= 2
	}
	dst := image.NewGray(image.Rect(0, 0, w*factor, h*factor))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

// ocrImage runs Tesseract over a preprocessed frame.
func (e *Extractor) ocrImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Preprocess(upscale(img))); err != nil {
		return "", fmt.Errorf("encode preprocessed image failed: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.ocrLang); err != nil {
		return "", fmt.Errorf("set ocr language failed: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set ocr image failed: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *Extractor) imageFileToText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image failed: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image failed: %w", err)
	}
	return e.ocrImage(img)
}

// pdfToTextViaOCR rasterizes each page and OCRs it, joining non-empty
// pages with blank lines.
func (e *Extractor) pdfToTextViaOCR(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open pdf for ocr failed: %w", err)
	}
	defer doc.Close()

	var pages []string
	for n := 0; n < doc.NumPage(); n++ {
		img, err := doc.ImageDPI(n, float64(e.pdfDPI))
		if err != nil {
			log.WithField("component", "extract").WithError(err).Warnf("render pdf page %d failed", n+1)
			continue
		}
		text, err := e.ocrImage(img)
		if err != nil {
			log.WithField("component", "extract").WithError(err).Warnf("ocr pdf page %d failed", n+1)
			continue
		}
		if text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
