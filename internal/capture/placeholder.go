package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 360
)

// PlaceholderJPEG renders a synthetic pattern frame used when the
// capture backend is unavailable, so a live stream keeps flowing
// instead of dropping the connection.
func PlaceholderJPEG(width, height, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = placeholderWidth, placeholderHeight
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	dark := color.RGBA{R: 32, G: 32, B: 40, A: 255}
	light := color.RGBA{R: 72, G: 72, B: 88, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/24+y/24)%2 == 0 {
				img.SetRGBA(x, y, dark)
			} else {
				img.SetRGBA(x, y, light)
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
