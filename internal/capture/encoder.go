package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

// Encoder re-encodes captured frames as JPEG at a requested quality.
// Every call decodes and encodes fresh; frames are never cached.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) EncodeJPEG(frame model.Frame, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
