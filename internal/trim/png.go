package trim

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"

	"github.com/canectors/viewexport/internal/logger"
)

var white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// PNG crops the image just below its lowest non-background row plus
// PNGPadding. The background is the top-left pixel, or white when that
// pixel is not opaque. Fully transparent pixels are always background.
func PNG(path string) (Result, error) {
	img, err := decodePNG(path)
	if err != nil {
		return Result{}, err
	}

	b := img.Bounds()
	height := b.Dy()
	res := Result{Before: float64(height), After: float64(height)}
	if b.Empty() {
		res.Reason = "empty image"
		return res, nil
	}

	bottom, found := contentBottom(img)
	if !found {
		res.Reason = "no content found"
		return res, nil
	}

	newHeight := min(height, bottom+1+PNGPadding)
	if newHeight >= height {
		res.Reason = "no space to trim"
		return res, nil
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return Result{}, fmt.Errorf("image type %T cannot be cropped", img)
	}
	cropped := sub.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+newHeight))

	err = replaceFile(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := png.Encode(f, cropped); err != nil {
			_ = f.Close()
			return fmt.Errorf("encoding png: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		return Result{}, err
	}

	res.Trimmed = true
	res.After = float64(newHeight)
	logger.Debug("png bottom trimmed",
		slog.String("path", path),
		slog.Int("content_bottom", bottom),
		slog.Int("height_before", height),
		slog.Int("height_after", newHeight),
	)
	return res, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	return img, nil
}

// contentBottom scans rows upward and returns the offset of the last row
// holding a non-background pixel.
func contentBottom(img image.Image) (int, bool) {
	b := img.Bounds()
	bg := color.NRGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.NRGBA)
	if bg.A != 255 {
		bg = white
	}

	isBackground := func(c color.Color) bool {
		p := color.NRGBAModel.Convert(c).(color.NRGBA)
		if p.A == 0 {
			return true
		}
		return p.R == bg.R && p.G == bg.G && p.B == bg.B
	}

	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !isBackground(img.At(x, y)) {
				return y - b.Min.Y, true
			}
		}
	}
	return 0, false
}
