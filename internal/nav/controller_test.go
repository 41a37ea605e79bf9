package nav

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/classify"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

func testFrame(t *testing.T, width, height int) model.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return model.Frame{Data: buf.Bytes(), Width: width, Height: height}
}

type staticFrames struct {
	frame model.Frame
	err   error
	calls int
}

func (s *staticFrames) Frame(_ context.Context) (model.Frame, error) {
	s.calls++
	if s.err != nil {
		return model.Frame{}, s.err
	}
	return s.frame, nil
}

type scriptRecognizer struct {
	responses [][]model.OCRToken
	calls     int
}

func (r *scriptRecognizer) Recognize(_ context.Context, _ []byte) ([]model.OCRToken, error) {
	if r.calls >= len(r.responses) {
		r.calls++
		return nil, nil
	}
	tokens := r.responses[r.calls]
	r.calls++
	return tokens, nil
}

type fakeInjector struct {
	keys   []string
	clicks [][2]int
	err    error
}

func (f *fakeInjector) PressKey(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeInjector) Click(_ context.Context, x, y int) error {
	if f.err != nil {
		return f.err
	}
	f.clicks = append(f.clicks, [2]int{x, y})
	return nil
}

func (f *fakeInjector) TypeText(_ context.Context, _ string) error {
	return f.err
}

type captureAudit struct {
	records []model.ActionRecord
}

func (a *captureAudit) InsertAction(_ context.Context, action model.ActionRecord) error {
	a.records = append(a.records, action)
	return nil
}

func lineTokens(words ...string) []model.OCRToken {
	tokens := make([]model.OCRToken, 0, len(words))
	for i, w := range words {
		tokens = append(tokens, model.OCRToken{
			Text:   w,
			Region: model.Region{Left: i * 40, Top: 8, Width: 30, Height: 12},
			Line:   model.LineRef{Block: 1, Par: 1, Line: 1},
		})
	}
	return tokens
}

func markerTokens() []model.OCRToken {
	return lineTokens("Archivo", "Inicio", "Enviar")
}

func newTestController(t *testing.T, frames FrameSource, rec *scriptRecognizer, inj *fakeInjector, audit AuditSink) (*Controller, *[]time.Duration) {
	t.Helper()
	classifier := classify.New([][2]string{
		{"archivo", "inicio"},
		{"bandeja", "entrada"},
	}, model.FracRegion{Left: 0.48, Top: 0.12, Width: 0.5, Height: 0.13})
	c := New(frames, rec, classifier, inj, Options{MaxTries: 2}, audit, nil)
	sleeps := &[]time.Duration{}
	c.sleep = func(_ context.Context, wait time.Duration) error {
		*sleeps = append(*sleeps, wait)
		return nil
	}
	return c, sleeps
}

func TestAdvanceSucceedsOnFirstAttempt(t *testing.T) {
	frames := &staticFrames{frame: testFrame(t, 300, 240)}
	rec := &scriptRecognizer{responses: [][]model.OCRToken{
		markerTokens(),
		lineTokens("Invoice", "#1"),
		lineTokens("Invoice", "#2"),
	}}
	inj := &fakeInjector{}
	audit := &captureAudit{}
	c, _ := newTestController(t, frames, rec, inj, audit)

	result, err := c.Advance(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Outcome != model.OutcomeAdvanced {
		t.Fatalf("outcome=%q want=advanced", result.Outcome)
	}
	if result.Attempts != 1 || result.FallbackUsed {
		t.Fatalf("attempts=%d fallback=%v want 1 attempt, no fallback", result.Attempts, result.FallbackUsed)
	}
	if len(inj.keys) != 1 || inj.keys[0] != "Down" || len(inj.clicks) != 0 {
		t.Fatalf("keys=%v clicks=%v", inj.keys, inj.clicks)
	}
	if result.Before != "invoice #1" || result.After != "invoice #2" {
		t.Fatalf("before=%q after=%q", result.Before, result.After)
	}
	if len(audit.records) != 1 || audit.records[0].Outcome != "advanced" {
		t.Fatalf("audit=%+v", audit.records)
	}
	if audit.records[0].BeforeDigest == "" || audit.records[0].BeforeDigest == audit.records[0].AfterDigest {
		t.Fatalf("digests not recorded: %+v", audit.records[0])
	}
}

func TestAdvanceFallbackClicksAfterExhaustedKeys(t *testing.T) {
	frames := &staticFrames{frame: testFrame(t, 1000, 800)}
	rec := &scriptRecognizer{responses: [][]model.OCRToken{
		markerTokens(),
		lineTokens("Invoice", "#1"), // baseline
		lineTokens("Invoice", "#1"), // after key 1
		lineTokens("Invoice", "#1"), // after key 2
		lineTokens("Invoice", "#2"), // after fallback clicks
	}}
	inj := &fakeInjector{}
	c, sleeps := newTestController(t, frames, rec, inj, &captureAudit{})

	result, err := c.Advance(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Outcome != model.OutcomeAdvanced || !result.FallbackUsed || result.Attempts != 2 {
		t.Fatalf("result=%+v", result)
	}
	if len(inj.keys) != 2 {
		t.Fatalf("keys=%d want=2", len(inj.keys))
	}
	if len(inj.clicks) != 2 {
		t.Fatalf("clicks=%d want=2", len(inj.clicks))
	}
	// Click positions come from the original frame's dimensions.
	if inj.clicks[0] != [2]int{330, 280} {
		t.Fatalf("first click=%v want=[330 280]", inj.clicks[0])
	}
	if inj.clicks[1] != [2]int{330, 344} {
		t.Fatalf("second click=%v want=[330 344]", inj.clicks[1])
	}
	// Two settle waits, one inter-click pause, one fallback settle.
	if len(*sleeps) != 4 {
		t.Fatalf("sleeps=%v", *sleeps)
	}
	if (*sleeps)[3] != 1500*time.Millisecond {
		t.Fatalf("fallback settle=%v want=1.5s", (*sleeps)[3])
	}
}

func TestAdvancePreconditionFailure(t *testing.T) {
	frames := &staticFrames{frame: testFrame(t, 300, 240)}
	rec := &scriptRecognizer{responses: [][]model.OCRToken{
		lineTokens("Notepad"),
	}}
	inj := &fakeInjector{}
	audit := &captureAudit{}
	c, _ := newTestController(t, frames, rec, inj, audit)

	_, err := c.Advance(context.Background())
	if err == nil {
		t.Fatalf("expected precondition error")
	}
	if code := model.ErrorCode(err); code != model.ErrPreconditionFailed {
		t.Fatalf("code=%q want=%q", code, model.ErrPreconditionFailed)
	}
	if len(inj.keys) != 0 || len(inj.clicks) != 0 {
		t.Fatalf("precondition failure must inject nothing: keys=%v clicks=%v", inj.keys, inj.clicks)
	}
	if len(audit.records) != 1 || audit.records[0].Outcome != "error" {
		t.Fatalf("audit=%+v", audit.records)
	}
	if audit.records[0].ErrorCode == nil || *audit.records[0].ErrorCode != model.ErrPreconditionFailed {
		t.Fatalf("audit error code=%v", audit.records[0].ErrorCode)
	}
}

func TestAdvanceEmptyFingerprintNeverCountsAsChange(t *testing.T) {
	frames := &staticFrames{frame: testFrame(t, 300, 240)}
	rec := &scriptRecognizer{responses: [][]model.OCRToken{
		markerTokens(),
		lineTokens("Invoice", "#1"),
		// All re-samples read nothing.
	}}
	inj := &fakeInjector{}
	c, _ := newTestController(t, frames, rec, inj, &captureAudit{})

	result, err := c.Advance(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Outcome != model.OutcomeNoChange {
		t.Fatalf("outcome=%q: empty fingerprints must not count as change", result.Outcome)
	}
	if !result.FallbackUsed {
		t.Fatalf("expected fallback after exhausted keys")
	}
}

func TestAdvanceActionBudget(t *testing.T) {
	frames := &staticFrames{frame: testFrame(t, 300, 240)}
	// Nothing ever changes: worst case action count.
	rec := &scriptRecognizer{responses: [][]model.OCRToken{
		markerTokens(),
		lineTokens("Invoice", "#1"),
		lineTokens("Invoice", "#1"),
		lineTokens("Invoice", "#1"),
		lineTokens("Invoice", "#1"),
	}}
	inj := &fakeInjector{}
	c, _ := newTestController(t, frames, rec, inj, &captureAudit{})

	result, err := c.Advance(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Outcome != model.OutcomeNoChange {
		t.Fatalf("outcome=%q", result.Outcome)
	}
	batches := len(inj.keys)
	if result.FallbackUsed {
		batches++
	}
	if batches > 3 {
		t.Fatalf("action batches=%d must be <= max_tries+1", batches)
	}
	if len(inj.keys) != 2 || len(inj.clicks) != 2 {
		t.Fatalf("keys=%d clicks=%d", len(inj.keys), len(inj.clicks))
	}
}

func TestAdvanceCaptureFailure(t *testing.T) {
	frames := &staticFrames{err: errors.New("display gone")}
	inj := &fakeInjector{}
	audit := &captureAudit{}
	c, _ := newTestController(t, frames, &scriptRecognizer{}, inj, audit)

	_, err := c.Advance(context.Background())
	if err == nil {
		t.Fatalf("expected capture error")
	}
	if code := model.ErrorCode(err); code != model.ErrCaptureFailed {
		t.Fatalf("code=%q want=%q", code, model.ErrCaptureFailed)
	}
	if len(inj.keys) != 0 {
		t.Fatalf("capture failure must inject nothing")
	}
}
