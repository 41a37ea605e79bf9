// Package capture produces display frames: a subprocess-backed screen
// source, the JPEG re-encoder, and the placeholder served when the
// capture backend is down on the stream path.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

// Source captures a rectangular display region, or the full primary
// display when region is nil. Implementations must be safe for
// concurrent callers.
type Source interface {
	Capture(ctx context.Context, region *model.Region) (model.Frame, error)
}

// ExecSource captures through an external tool (ImageMagick import by
// default) writing PNG to stdout. The capture handle is the subprocess
// itself, acquired per call and released when it exits.
type ExecSource struct {
	exec    *host.Executor
	command string
}

func NewExecSource(exec *host.Executor, command string) *ExecSource {
	if command == "" {
		command = "import"
	}
	return &ExecSource{exec: exec, command: command}
}

func (s *ExecSource) Capture(ctx context.Context, region *model.Region) (model.Frame, error) {
	args := []string{s.command, "-window", "root", "-silent"}
	if region != nil {
		if err := region.Validate(); err != nil {
			return model.Frame{}, &model.CodedError{Code: model.ErrRefInvalid, Message: "capture region", Err: err}
		}
		args = append(args, "-crop", fmt.Sprintf("%dx%d+%d+%d", region.Width, region.Height, region.Left, region.Top), "+repage")
	}
	args = append(args, "png:-")

	res, err := s.exec.Run(ctx, args)
	if err != nil {
		return model.Frame{}, &model.CodedError{Code: model.ErrCaptureFailed, Message: "capture display", Err: err}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(res.Output))
	if err != nil {
		return model.Frame{}, &model.CodedError{Code: model.ErrCaptureFailed, Message: "decode captured image", Err: err}
	}
	return model.Frame{
		Data:       res.Output,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now().UTC(),
	}, nil
}
