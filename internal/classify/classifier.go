// Package classify derives semantic UI state from recognized tokens:
// whether the mail client is frontmost, and the fingerprint of the
// currently focused list item.
package classify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sort"
	"strings"

	"github.com/Finithe-Phoenix/seeallene/internal/model"
	"github.com/Finithe-Phoenix/seeallene/internal/ocr"
)

type Classifier struct {
	markers [][2]string
	region  model.FracRegion
}

func New(markers [][2]string, region model.FracRegion) *Classifier {
	return &Classifier{markers: markers, region: region}
}

// IsTargetApp reports whether the token text identifies the target mail
// client. Each marker pair is a conjunction: both substrings must be
// present. A single matched substring never suffices; partial OCR of an
// unrelated window must not pass.
func (c *Classifier) IsTargetApp(tokens []model.OCRToken) bool {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(strings.ToLower(tok.Text))
		sb.WriteByte(' ')
	}
	text := sb.String()
	for _, pair := range c.markers {
		if strings.Contains(text, strings.ToLower(pair[0])) && strings.Contains(text, strings.ToLower(pair[1])) {
			return true
		}
	}
	return false
}

// ExtractFingerprint OCRs the configured fractional sub-rectangle of
// the frame and returns the topmost non-blank line, lower-cased and
// trimmed. Returns "" when nothing is read; the caller treats that as
// "no change evidence", never as a change.
func (c *Classifier) ExtractFingerprint(ctx context.Context, rec ocr.Recognizer, frame model.Frame) (string, error) {
	cropped, err := cropPNG(frame, c.region)
	if err != nil {
		return "", err
	}
	tokens, err := rec.Recognize(ctx, cropped)
	if err != nil {
		return "", err
	}
	return firstLine(tokens), nil
}

// Region reports the configured fingerprint rectangle.
func (c *Classifier) Region() model.FracRegion {
	return c.region
}

func cropPNG(frame model.Frame, frac model.FracRegion) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	bounds := img.Bounds()
	rect := frac.PixelsIn(bounds.Dx(), bounds.Dy())
	crop := image.Rect(
		bounds.Min.X+rect.Left,
		bounds.Min.Y+rect.Top,
		bounds.Min.X+rect.Left+rect.Width,
		bounds.Min.Y+rect.Top+rect.Height,
	).Intersect(bounds)
	if crop.Empty() {
		return nil, fmt.Errorf("fingerprint region is empty at %dx%d", bounds.Dx(), bounds.Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), img, crop.Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// firstLine groups tokens into text lines, orders lines by vertical
// position, and returns the first non-blank one. Recognizer token order
// is unspecified, so ordering is reconstructed from regions.
func firstLine(tokens []model.OCRToken) string {
	type lineAcc struct {
		top   int
		words []model.OCRToken
	}
	lines := map[model.LineRef]*lineAcc{}
	for _, tok := range tokens {
		if strings.TrimSpace(tok.Text) == "" {
			continue
		}
		acc, ok := lines[tok.Line]
		if !ok {
			acc = &lineAcc{top: tok.Region.Top}
			lines[tok.Line] = acc
		}
		if tok.Region.Top < acc.top {
			acc.top = tok.Region.Top
		}
		acc.words = append(acc.words, tok)
	}
	ordered := make([]*lineAcc, 0, len(lines))
	for _, acc := range lines {
		ordered = append(ordered, acc)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].top < ordered[j].top })

	for _, acc := range ordered {
		sort.Slice(acc.words, func(i, j int) bool { return acc.words[i].Region.Left < acc.words[j].Region.Left })
		parts := make([]string, 0, len(acc.words))
		for _, word := range acc.words {
			parts = append(parts, word.Text)
		}
		line := strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))
		if line != "" {
			return line
		}
	}
	return ""
}
