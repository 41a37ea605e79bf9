// Package stream writes motion-JPEG multipart streams to HTTP clients.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	MinFPS     = 1
	MaxFPS     = 15
	MinQuality = 30
	MaxQuality = 85
)

// Session holds the negotiated parameters for one stream connection.
// Out-of-range requests are clamped, never rejected.
type Session struct {
	FPS      int
	Quality  int
	Boundary string
}

func NewSession(fps, quality int) Session {
	if fps < MinFPS {
		fps = MinFPS
	}
	if fps > MaxFPS {
		fps = MaxFPS
	}
	if quality < MinQuality {
		quality = MinQuality
	}
	if quality > MaxQuality {
		quality = MaxQuality
	}
	return Session{
		FPS:      fps,
		Quality:  quality,
		Boundary: "seeallene-" + uuid.NewString(),
	}
}

// ContentType is the multipart media type for the HTTP response header.
func (s Session) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + s.Boundary
}

// FrameFunc yields one encoded JPEG at the session's quality.
type FrameFunc func(ctx context.Context) ([]byte, error)

// Broadcaster pushes JPEG parts down a single connection at the
// session's frame rate until the client goes away or the context is
// cancelled. A write failure means the client disconnected and is a
// normal way for a stream to end.
type Broadcaster struct {
	session Session
	frames  FrameFunc
	logger  *slog.Logger
}

func NewBroadcaster(session Session, frames FrameFunc, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{session: session, frames: frames, logger: logger}
}

func (b *Broadcaster) Serve(ctx context.Context, w io.Writer) {
	interval := time.Second / time.Duration(b.session.FPS)
	flusher, _ := w.(http.Flusher)
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := b.frames(ctx)
		if err != nil {
			b.logger.Warn("stream frame unavailable", "error", err)
			if sleepErr := sleepWithContext(ctx, interval); sleepErr != nil {
				return
			}
			continue
		}
		if err := writePart(w, b.session.Boundary, payload); err != nil {
			b.logger.Debug("stream client disconnected", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if err := sleepWithContext(ctx, interval); err != nil {
			return
		}
	}
}

func writePart(w io.Writer, boundary string, payload []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
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
