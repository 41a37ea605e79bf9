// Package nav drives the closed navigation loop: capture, classify,
// act, re-capture, verify. Input injection proves nothing by itself;
// only a changed content fingerprint counts as an advance.
package nav

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Finithe-Phoenix/seeallene/internal/classify"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/input"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
	"github.com/Finithe-Phoenix/seeallene/internal/ocr"
	"github.com/Finithe-Phoenix/seeallene/internal/security"
)

// FrameSource yields one fresh frame per call.
type FrameSource interface {
	Frame(ctx context.Context) (model.Frame, error)
}

// AuditSink records completed advance calls. A nil sink disables
// auditing.
type AuditSink interface {
	InsertAction(ctx context.Context, action model.ActionRecord) error
}

type Options struct {
	MaxTries            int
	AdvanceKey          string
	SettleDelay         time.Duration
	FallbackSettleDelay time.Duration
	ClickPause          time.Duration
	FallbackClicks      []model.FracPoint
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxTries:            cfg.MaxTries,
		AdvanceKey:          cfg.AdvanceKey,
		SettleDelay:         cfg.SettleDelay,
		FallbackSettleDelay: cfg.FallbackSettleDelay,
		ClickPause:          cfg.ClickPause,
		FallbackClicks:      cfg.FallbackClicks,
	}
}

func (o *Options) defaults() {
	if o.MaxTries <= 0 {
		o.MaxTries = 2
	}
	if o.AdvanceKey == "" {
		o.AdvanceKey = "Down"
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 1200 * time.Millisecond
	}
	if o.FallbackSettleDelay <= 0 {
		o.FallbackSettleDelay = 1500 * time.Millisecond
	}
	if o.ClickPause <= 0 {
		o.ClickPause = 200 * time.Millisecond
	}
	if len(o.FallbackClicks) == 0 {
		o.FallbackClicks = []model.FracPoint{
			{X: 0.33, Y: 0.35},
			{X: 0.33, Y: 0.43},
		}
	}
}

// Controller is stateless between calls aside from configuration.
// Calls are serialized: there is one physical UI to drive.
type Controller struct {
	frames     FrameSource
	rec        ocr.Recognizer
	classifier *classify.Classifier
	injector   input.Injector
	audit      AuditSink
	logger     *slog.Logger
	opts       Options

	mu    sync.Mutex
	sleep func(ctx context.Context, wait time.Duration) error
	now   func() time.Time
}

func New(frames FrameSource, rec ocr.Recognizer, classifier *classify.Classifier, injector input.Injector, opts Options, audit AuditSink, logger *slog.Logger) *Controller {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		frames:     frames,
		rec:        rec,
		classifier: classifier,
		injector:   injector,
		audit:      audit,
		logger:     logger,
		opts:       opts,
		sleep:      sleepWithContext,
		now:        time.Now,
	}
}

// Advance moves the mail client to the next list item and verifies the
// move by re-observing the screen. Primary strategy: up to MaxTries key
// presses. Fallback: two pointer clicks in the message list, positioned
// from the original frame's dimensions. Returns an error only for hard
// failures (precondition, capture, recognizer); "nothing moved" is the
// no_change outcome, not an error.
func (c *Controller) Advance(ctx context.Context) (model.NavigationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now().UTC()
	result, err := c.advance(ctx)
	c.record(ctx, start, result, err)
	return result, err
}

func (c *Controller) advance(ctx context.Context) (model.NavigationResult, error) {
	frame0, err := c.frames.Frame(ctx)
	if err != nil {
		return model.NavigationResult{}, captureErr(err)
	}
	tokens, err := c.rec.Recognize(ctx, frame0.Data)
	if err != nil {
		return model.NavigationResult{}, recognizerErr(err)
	}
	if !c.classifier.IsTargetApp(tokens) {
		return model.NavigationResult{}, &model.CodedError{
			Code:    model.ErrPreconditionFailed,
			Message: "mail client is not frontmost: bring it to the foreground and retry",
		}
	}

	before, err := c.classifier.ExtractFingerprint(ctx, c.rec, frame0)
	if err != nil {
		return model.NavigationResult{}, recognizerErr(err)
	}
	result := model.NavigationResult{Outcome: model.OutcomeNoChange, Before: before}

	for attempt := 1; attempt <= c.opts.MaxTries; attempt++ {
		if err := c.injector.PressKey(ctx, c.opts.AdvanceKey); err != nil {
			return result, err
		}
		result.Attempts = attempt
		if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
			return result, err
		}
		after, err := c.sample(ctx)
		if err != nil {
			return result, err
		}
		if model.FingerprintChanged(before, after) {
			result.Outcome = model.OutcomeAdvanced
			result.After = after
			return result, nil
		}
		c.logger.Debug("fingerprint unchanged after key press",
			"attempt", attempt, "key", c.opts.AdvanceKey)
	}

	// Keyboard focus may be elsewhere; try pointer clicks at the list
	// positions derived from the original frame's dimensions.
	result.FallbackUsed = true
	for i, point := range c.opts.FallbackClicks {
		x, y := point.PixelsIn(frame0.Width, frame0.Height)
		if err := c.injector.Click(ctx, x, y); err != nil {
			return result, err
		}
		if i < len(c.opts.FallbackClicks)-1 {
			if err := c.sleep(ctx, c.opts.ClickPause); err != nil {
				return result, err
			}
		}
	}
	if err := c.sleep(ctx, c.opts.FallbackSettleDelay); err != nil {
		return result, err
	}
	after, err := c.sample(ctx)
	if err != nil {
		return result, err
	}
	if model.FingerprintChanged(before, after) {
		result.Outcome = model.OutcomeAdvanced
		result.After = after
	} else {
		result.After = after
	}
	return result, nil
}

func (c *Controller) sample(ctx context.Context) (string, error) {
	frame, err := c.frames.Frame(ctx)
	if err != nil {
		return "", captureErr(err)
	}
	fingerprint, err := c.classifier.ExtractFingerprint(ctx, c.rec, frame)
	if err != nil {
		return "", recognizerErr(err)
	}
	return fingerprint, nil
}

func (c *Controller) record(ctx context.Context, start time.Time, result model.NavigationResult, callErr error) {
	if c.audit == nil {
		return
	}
	completed := c.now().UTC()
	outcome := string(result.Outcome)
	var errorCode *string
	if callErr != nil {
		outcome = "error"
		code := model.ErrorCode(callErr)
		if code == "" {
			code = model.ErrCaptureFailed
		}
		errorCode = &code
	}
	action := model.ActionRecord{
		ActionID:     uuid.NewString(),
		RequestedAt:  start,
		CompletedAt:  &completed,
		Outcome:      outcome,
		Attempts:     result.Attempts,
		FallbackUsed: result.FallbackUsed,
		BeforeDigest: security.FingerprintDigest(result.Before),
		AfterDigest:  security.FingerprintDigest(result.After),
		DurationMs:   completed.Sub(start).Milliseconds(),
		ErrorCode:    errorCode,
	}
	if err := c.audit.InsertAction(ctx, action); err != nil {
		c.logger.Warn("record advance action", "error", err)
	}
}

func captureErr(err error) error {
	if model.ErrorCode(err) != "" {
		return err
	}
	return &model.CodedError{Code: model.ErrCaptureFailed, Message: "fetch frame", Err: err}
}

func recognizerErr(err error) error {
	if model.ErrorCode(err) != "" {
		return err
	}
	return &model.CodedError{Code: model.ErrRecognizerFailed, Message: "recognize frame", Err: err}
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
