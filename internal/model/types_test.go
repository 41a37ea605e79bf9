package model

import "testing"

func TestFingerprintChanged(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   bool
	}{
		{name: "changed", before: "invoice #1", after: "invoice #2", want: true},
		{name: "same", before: "invoice #1", after: "invoice #1", want: false},
		{name: "empty-after-never-changes", before: "invoice #1", after: "", want: false},
		{name: "empty-before-nonempty-after", before: "", after: "invoice #1", want: true},
		{name: "both-empty", before: "", after: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FingerprintChanged(tc.before, tc.after); got != tc.want {
				t.Fatalf("FingerprintChanged(%q, %q)=%v want=%v", tc.before, tc.after, got, tc.want)
			}
		})
	}
}

func TestFracRegionPixelsScaleLinearly(t *testing.T) {
	frac := FracRegion{Left: 0.48, Top: 0.12, Width: 0.5, Height: 0.13}
	base := frac.PixelsIn(1000, 800)
	doubled := frac.PixelsIn(2000, 1600)

	if base.Left != 480 || base.Top != 96 || base.Width != 500 || base.Height != 104 {
		t.Fatalf("unexpected base rect: %+v", base)
	}
	if doubled.Left != base.Left*2 || doubled.Top != base.Top*2 ||
		doubled.Width != base.Width*2 || doubled.Height != base.Height*2 {
		t.Fatalf("doubling dimensions must double the rect: base=%+v doubled=%+v", base, doubled)
	}
}

func TestFracRegionValidate(t *testing.T) {
	tests := []struct {
		name    string
		frac    FracRegion
		wantErr bool
	}{
		{name: "ok", frac: FracRegion{Left: 0.1, Top: 0.1, Width: 0.5, Height: 0.5}},
		{name: "zero-width", frac: FracRegion{Left: 0.1, Top: 0.1, Height: 0.5}, wantErr: true},
		{name: "overflows-right", frac: FracRegion{Left: 0.8, Top: 0.1, Width: 0.5, Height: 0.5}, wantErr: true},
		{name: "negative-origin", frac: FracRegion{Left: -0.1, Top: 0.1, Width: 0.5, Height: 0.5}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frac.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %+v", tc.frac)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRegionClampPoint(t *testing.T) {
	r := Region{Left: 10, Top: 20, Width: 100, Height: 50}
	x, y := r.ClampPoint(5, 500)
	if x != 10 || y != 69 {
		t.Fatalf("ClampPoint(5,500)=(%d,%d) want=(10,69)", x, y)
	}
	x, y = r.ClampPoint(50, 30)
	if x != 50 || y != 30 {
		t.Fatalf("inside point must be unchanged, got (%d,%d)", x, y)
	}
	if r.Contains(110, 30) {
		t.Fatalf("right edge is exclusive")
	}
	if !r.Contains(109, 30) {
		t.Fatalf("expected point inside region")
	}
}

func TestErrorCode(t *testing.T) {
	inner := &CodedError{Code: ErrCaptureFailed, Message: "capture frame"}
	if got := ErrorCode(inner); got != ErrCaptureFailed {
		t.Fatalf("ErrorCode=%q want=%q", got, ErrCaptureFailed)
	}
	wrapped := &CodedError{Code: ErrRecognizerFailed, Message: "recognize", Err: inner}
	if got := ErrorCode(wrapped); got != ErrRecognizerFailed {
		t.Fatalf("outermost code wins, got %q", got)
	}
	if got := ErrorCode(nil); got != "" {
		t.Fatalf("nil error must yield empty code, got %q", got)
	}
}
