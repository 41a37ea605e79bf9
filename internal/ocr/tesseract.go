// Package ocr recognizes text in captured frames. The recognizer is an
// explicitly constructed capability injected into the classifier and
// controller, never process-wide state.
package ocr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

// Recognizer turns an encoded image into recognized tokens. Token order
// is the engine's internal scan order and must not be relied on; absent
// text is a normal outcome, not an error.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) ([]model.OCRToken, error)
}

// Tesseract runs the tesseract binary in TSV mode over a temp file.
type Tesseract struct {
	exec  *host.Executor
	langs string
}

// NewTesseract constructs the engine and verifies the binary responds.
func NewTesseract(ctx context.Context, exec *host.Executor, langs string) (*Tesseract, error) {
	if langs == "" {
		langs = "eng"
	}
	t := &Tesseract{exec: exec, langs: langs}
	if _, err := exec.Run(ctx, []string{"tesseract", "--version"}); err != nil {
		return nil, &model.CodedError{Code: model.ErrRecognizerFailed, Message: "tesseract unavailable", Err: err}
	}
	return t, nil
}

// Close releases engine resources. The subprocess engine holds none,
// but the lifecycle stays explicit so callers construct and tear down
// deliberately.
func (t *Tesseract) Close() error {
	return nil
}

func (t *Tesseract) Recognize(ctx context.Context, img []byte) ([]model.OCRToken, error) {
	tmp, err := os.CreateTemp("", "seeallene-ocr-*.png")
	if err != nil {
		return nil, &model.CodedError{Code: model.ErrRecognizerFailed, Message: "stage image", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return nil, &model.CodedError{Code: model.ErrRecognizerFailed, Message: "stage image", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &model.CodedError{Code: model.ErrRecognizerFailed, Message: "stage image", Err: err}
	}

	res, err := t.exec.Run(ctx, []string{"tesseract", tmp.Name(), "stdout", "-l", t.langs, "--psm", "6", "tsv"})
	if err != nil {
		return nil, &model.CodedError{Code: model.ErrRecognizerFailed, Message: "run tesseract", Err: err}
	}
	return parseTSV(string(res.Output)), nil
}

// parseTSV extracts word-level rows (level 5) from tesseract TSV
// output. Malformed rows are skipped; OCR noise is normal.
func parseTSV(out string) []model.OCRToken {
	tokens := make([]model.OCRToken, 0, 32)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 12 || fields[0] != "5" {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}
		left, err1 := strconv.Atoi(fields[6])
		top, err2 := strconv.Atoi(fields[7])
		width, err3 := strconv.Atoi(fields[8])
		height, err4 := strconv.Atoi(fields[9])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil {
			conf = 0
		}
		block, _ := strconv.Atoi(fields[2])
		par, _ := strconv.Atoi(fields[3])
		lineNum, _ := strconv.Atoi(fields[4])
		tokens = append(tokens, model.OCRToken{
			Text:       text,
			Region:     model.Region{Left: left, Top: top, Width: width, Height: height},
			Confidence: conf,
			Line:       model.LineRef{Block: block, Par: par, Line: lineNum},
		})
	}
	return tokens
}

var _ Recognizer = (*Tesseract)(nil)

// Langs reports the configured language set, e.g. "spa+eng".
func (t *Tesseract) Langs() string {
	return t.langs
}

// String implements fmt.Stringer for log output.
func (t *Tesseract) String() string {
	return fmt.Sprintf("tesseract(%s)", t.langs)
}
