package streamd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Finithe-Phoenix/seeallene/internal/api"
	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

type fakeSource struct {
	frame model.Frame
	err   error
}

func (f *fakeSource) Capture(_ context.Context, _ *model.Region) (model.Frame, error) {
	if f.err != nil {
		return model.Frame{}, f.err
	}
	return f.frame, nil
}

func pngFrame(t *testing.T, width, height int) model.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return model.Frame{Data: buf.Bytes(), Width: width, Height: height}
}

func newTestServer(t *testing.T, source *fakeSource) *httptest.Server {
	t.Helper()
	s := NewServer(config.DefaultConfig(), source, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeSource{frame: pngFrame(t, 32, 32)})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Service != "seeallene-streamd" || status.Status != "ok" {
		t.Fatalf("status=%+v", status)
	}
	if status.SchemaVersion != api.SchemaVersion {
		t.Fatalf("schema_version=%q", status.SchemaVersion)
	}
	if status.Endpoints["snapshot"] != "/snapshot.jpg" {
		t.Fatalf("endpoints=%v", status.Endpoints)
	}
}

func TestSnapshotServesLiveFrame(t *testing.T) {
	srv := newTestServer(t, &fakeSource{frame: pngFrame(t, 120, 90)})

	resp, err := http.Get(srv.URL + "/snapshot.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(client.SourceHeader); got != "live" {
		t.Fatalf("source header=%q want=live", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type=%q", ct)
	}
	cfg, format, err := image.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "jpeg" || cfg.Width != 120 || cfg.Height != 90 {
		t.Fatalf("format=%q dims=%dx%d", format, cfg.Width, cfg.Height)
	}
}

func TestSnapshotFallsBackToPlaceholder(t *testing.T) {
	srv := newTestServer(t, &fakeSource{err: errors.New("display unreachable")})

	resp, err := http.Get(srv.URL + "/snapshot.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d: snapshot must answer even without capture", resp.StatusCode)
	}
	if got := resp.Header.Get(client.SourceHeader); got != "placeholder" {
		t.Fatalf("source header=%q want=placeholder", got)
	}
	if _, format, err := image.DecodeConfig(resp.Body); err != nil || format != "jpeg" {
		t.Fatalf("placeholder must be a valid jpeg: format=%q err=%v", format, err)
	}
}

func TestStreamSessionParams(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewServer(cfg, &fakeSource{frame: pngFrame(t, 32, 32)}, nil)

	cases := []struct {
		name        string
		target      string
		wantFPS     int
		wantQuality int
	}{
		{"absent params use configured defaults", "/stream", cfg.StreamFPS, cfg.StreamQuality},
		{"explicit zeros clamp to minimums", "/stream?fps=0&q=0", 1, 30},
		{"explicit values pass through", "/stream?fps=12&q=70", 12, 70},
		{"out of range values clamp", "/stream?fps=99&q=1", 15, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			session := s.streamSession(req)
			if session.FPS != tc.wantFPS || session.Quality != tc.wantQuality {
				t.Fatalf("got fps=%d quality=%d want fps=%d quality=%d", session.FPS, session.Quality, tc.wantFPS, tc.wantQuality)
			}
		})
	}
}

func TestStreamWritesMultipartParts(t *testing.T) {
	srv := newTestServer(t, &fakeSource{frame: pngFrame(t, 48, 48)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?fps=15&q=50", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/x-mixed-replace; boundary=") {
		t.Fatalf("content type=%q", ct)
	}
	boundary := strings.TrimPrefix(ct, "multipart/x-mixed-replace; boundary=")

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read boundary line: %v", err)
	}
	if strings.TrimSpace(first) != "--"+boundary {
		t.Fatalf("first line=%q want=--%s", strings.TrimSpace(first), boundary)
	}
	sawLength := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(trimmed, "Content-Length: ") {
			sawLength = true
		}
	}
	if !sawLength {
		t.Fatalf("part headers missing Content-Length")
	}
	cancel()
}
