// Package imageops holds the two image transforms a pipeline run can apply.
// Both are pure functions of their input and always emit PNG.
package imageops

import (
	"errors"
	"fmt"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"image"
	"image-processing-flow/internal/pipeline"
	"image/draw"
	"io"
	"os"
)

// Tint composited over the source for SEPIA.
const (
	sepiaRed   = 120
	sepiaGreen = 120
	sepiaBlue  = 0
	sepiaAlpha = 120
)

// Grayscale re-renders img into a single-channel luminance image.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Sepia draws a translucent brownish-yellow rectangle over the whole image.
func Sepia(img image.Image) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetRGBA255(sepiaRed, sepiaGreen, sepiaBlue, sepiaAlpha)
	dc.DrawRectangle(0, 0, float64(dc.Width()), float64(dc.Height()))
	dc.Fill()
	return dc.Image()
}

// Transform decodes r, applies kind and writes a PNG to w. Decode failures
// are permanent: retrying cannot fix a corrupt file.
func Transform(kind pipeline.TransformKind, r io.Reader, w io.Writer) error {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return pipeline.NewPermanentInputError("failed to decode image", err)
	}

	var out image.Image
	switch kind {
	case pipeline.Grayscale:
		out = Grayscale(src)
	case pipeline.Sepia:
		out = Sepia(src)
	default:
		return pipeline.NewPermanentInputError(fmt.Sprintf("unsupported transform: '%s'", kind), nil)
	}

	if err := imaging.Encode(w, out, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// TransformFile is Transform over local files. A partially written output
// is removed on failure.
func TransformFile(kind pipeline.TransformKind, inputPath, outputPath string) (err error) {
	in, err := os.Open(inputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pipeline.NewPermanentInputError("input file does not exist: "+inputPath, err)
		}
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	return Transform(kind, in, out)
}
