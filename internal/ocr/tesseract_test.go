package ocr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t12\t200\t20\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t12\t60\t20\t91.2\tBandeja\n" +
	"5\t1\t1\t1\t1\t2\t80\t12\t70\t20\t88.7\tentrada\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t90\t20\t85.0\tArchivo\n" +
	"5\t1\t1\t1\t2\t2\t110\t40\t20\t20\t12.0\t \n" +
	"5\t1\t1\t1\t2\t3\tx\t40\t20\t20\t12.0\tnoise\n"

type tsvRunner struct {
	tsv string
	err error
}

func (r tsvRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if name != "tesseract" {
		return nil, errors.New("unexpected command")
	}
	if len(args) == 1 && args[0] == "--version" {
		return []byte("tesseract 5.3.0"), nil
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "tsv") || !strings.Contains(joined, "-l ") {
		return nil, errors.New("missing tsv or language args")
	}
	return []byte(r.tsv), nil
}

func testExecutor(runner host.Runner) *host.Executor {
	return host.NewExecutorWithRunner(host.Config{CommandTimeout: time.Second}, runner)
}

func TestRecognizeParsesWordRows(t *testing.T) {
	ctx := context.Background()
	rec, err := NewTesseract(ctx, testExecutor(tsvRunner{tsv: sampleTSV}), "spa+eng")
	if err != nil {
		t.Fatalf("new tesseract: %v", err)
	}
	defer rec.Close()

	tokens, err := rec.Recognize(ctx, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("tokens=%d want=3 (blank and malformed rows skipped): %+v", len(tokens), tokens)
	}
	first := tokens[0]
	if first.Text != "Bandeja" {
		t.Fatalf("text=%q", first.Text)
	}
	if first.Region != (model.Region{Left: 10, Top: 12, Width: 60, Height: 20}) {
		t.Fatalf("region=%+v", first.Region)
	}
	if first.Confidence != 91.2 {
		t.Fatalf("confidence=%v", first.Confidence)
	}
	if tokens[2].Line != (model.LineRef{Block: 1, Par: 1, Line: 2}) {
		t.Fatalf("line ref=%+v", tokens[2].Line)
	}
}

func TestRecognizeEmptyOutputIsNotAnError(t *testing.T) {
	ctx := context.Background()
	rec, err := NewTesseract(ctx, testExecutor(tsvRunner{tsv: "level\tpage_num\n"}), "eng")
	if err != nil {
		t.Fatalf("new tesseract: %v", err)
	}
	tokens, err := rec.Recognize(ctx, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("no text must not error: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("tokens=%d want=0", len(tokens))
	}
}

func TestNewTesseractFailsWhenBinaryMissing(t *testing.T) {
	_, err := NewTesseract(context.Background(), testExecutor(tsvRunner{err: errors.New("not found")}), "eng")
	if err == nil {
		t.Fatalf("expected constructor failure")
	}
	if code := model.ErrorCode(err); code != model.ErrRecognizerFailed {
		t.Fatalf("code=%q want=%q", code, model.ErrRecognizerFailed)
	}
}

func TestRecognizeSubprocessFailureIsCoded(t *testing.T) {
	ctx := context.Background()
	rec := &Tesseract{exec: testExecutor(failAfterVersionRunner{}), langs: "eng"}
	_, err := rec.Recognize(ctx, []byte("png-bytes"))
	if err == nil {
		t.Fatalf("expected recognizer failure")
	}
	if code := model.ErrorCode(err); code != model.ErrRecognizerFailed {
		t.Fatalf("code=%q want=%q", code, model.ErrRecognizerFailed)
	}
}

type failAfterVersionRunner struct{}

func (failAfterVersionRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	if len(args) == 1 && args[0] == "--version" {
		return []byte("tesseract 5.3.0"), nil
	}
	return nil, errors.New("engine crashed")
}
