// Package input injects synthetic keyboard and pointer events into the
// live display, and guards the free-form injection surface with arming,
// a kill switch, rate limiting, and scope clamping.
package input

import (
	"context"
	"strconv"

	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

// Injector issues input events. Sending always "succeeds" as an OS
// operation; only re-observing the screen proves an effect.
type Injector interface {
	PressKey(ctx context.Context, key string) error
	Click(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
}

// Xdotool injects through the xdotool binary.
type Xdotool struct {
	exec *host.Executor
}

func NewXdotool(exec *host.Executor) *Xdotool {
	return &Xdotool{exec: exec}
}

func (x *Xdotool) PressKey(ctx context.Context, key string) error {
	_, err := x.exec.Run(ctx, []string{"xdotool", "key", "--clearmodifiers", key})
	if err != nil {
		return &model.CodedError{Code: model.ErrInjectionBlocked, Message: "press key", Err: err}
	}
	return nil
}

func (x *Xdotool) Click(ctx context.Context, px, py int) error {
	_, err := x.exec.Run(ctx, []string{
		"xdotool",
		"mousemove", strconv.Itoa(px), strconv.Itoa(py),
		"click", "1",
	})
	if err != nil {
		return &model.CodedError{Code: model.ErrInjectionBlocked, Message: "click", Err: err}
	}
	return nil
}

func (x *Xdotool) TypeText(ctx context.Context, text string) error {
	_, err := x.exec.Run(ctx, []string{"xdotool", "type", "--clearmodifiers", "--", text})
	if err != nil {
		return &model.CodedError{Code: model.ErrInjectionBlocked, Message: "type text", Err: err}
	}
	return nil
}

var _ Injector = (*Xdotool)(nil)
