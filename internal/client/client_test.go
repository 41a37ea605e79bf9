package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/api"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestRequestErrorRetryable(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusConflict, false},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		err := &RequestError{StatusCode: tc.status}
		if err.Retryable() != tc.retryable {
			t.Errorf("status %d: retryable=%v want=%v", tc.status, err.Retryable(), tc.retryable)
		}
	}
}

func TestRequestErrorDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			SchemaVersion: api.SchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Error:         api.APIError{Code: "E_PRECONDITION_FAILED", Message: "mail client is not frontmost"},
		})
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	_, err := c.Advance(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusConflict || reqErr.Code != "E_PRECONDITION_FAILED" {
		t.Fatalf("got %+v", reqErr)
	}
	if reqErr.Retryable() {
		t.Fatalf("409 must not be retryable")
	}
}

func TestSnapshotReportsSource(t *testing.T) {
	payload := testJPEG(t, 320, 200)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set(SourceHeader, "placeholder")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	data, source, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if source != "placeholder" {
		t.Fatalf("source=%q want=placeholder", source)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestSnapshotHonorsConfiguredTimeout(t *testing.T) {
	payload := testJPEG(t, 32, 32)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer server.Close()
	defer close(release)

	c := NewWithClient(server.URL, server.Client()).WithSnapshotTimeout(50 * time.Millisecond)
	start := time.Now()
	if _, _, err := c.Snapshot(context.Background()); err == nil {
		t.Fatalf("snapshot against a stalled server must time out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("snapshot waited %v, configured budget was 50ms", elapsed)
	}
}

func TestFrameRejectsPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(SourceHeader, "placeholder")
		_, _ = w.Write(testJPEG(t, 64, 64))
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	_, err := c.Frame(context.Background())
	if err == nil {
		t.Fatalf("placeholder snapshot must not become a frame")
	}
	if code := model.ErrorCode(err); code != model.ErrCaptureFailed {
		t.Fatalf("code=%q want=%q", code, model.ErrCaptureFailed)
	}
}

func TestFrameDecodesDimensions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(testJPEG(t, 320, 200))
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	frame, err := c.Frame(context.Background())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if frame.Width != 320 || frame.Height != 200 {
		t.Fatalf("dims=%dx%d want=320x200", frame.Width, frame.Height)
	}
}

func TestResetKillSendsConfirmHeader(t *testing.T) {
	var gotConfirm string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConfirm = r.Header.Get(ConfirmHeader)
		_ = json.NewEncoder(w).Encode(api.AckResponse{SchemaVersion: api.SchemaVersion, OK: true})
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	if err := c.ResetKill(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if gotConfirm != "reset" {
		t.Fatalf("confirm header=%q want=reset", gotConfirm)
	}
}

func TestActionsPassesLimit(t *testing.T) {
	var gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(api.ActionsEnvelope{
			SchemaVersion: api.SchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Actions:       []api.ActionItem{{ActionID: "a1", Outcome: "advanced"}},
		})
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	env, err := c.Actions(context.Background(), 25)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if gotLimit != "25" {
		t.Fatalf("limit=%q want=25", gotLimit)
	}
	if len(env.Actions) != 1 || env.Actions[0].ActionID != "a1" {
		t.Fatalf("env=%+v", env)
	}
}

func TestClickSendsBearerToken(t *testing.T) {
	var gotAuth string
	var gotBody api.ClickRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(api.AckResponse{SchemaVersion: api.SchemaVersion, OK: true})
	}))
	defer server.Close()

	c := NewWithClient(server.URL, server.Client())
	if err := c.Click(context.Background(), "tok-123", 40, 60); err != nil {
		t.Fatalf("click: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotBody.X != 40 || gotBody.Y != 60 {
		t.Fatalf("body=%+v", gotBody)
	}
}
