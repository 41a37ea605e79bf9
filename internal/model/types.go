package model

import (
	"fmt"
	"time"
)

// Frame is one encoded raster capture of the display. Data holds the
// compressed image bytes (PNG straight off the capture backend, JPEG
// after re-encoding). Frames live for one request or loop iteration.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Quality    int
	CapturedAt time.Time
}

// Region is an absolute pixel rectangle in display coordinates.
type Region struct {
	Left   int `json:"left" yaml:"left"`
	Top    int `json:"top" yaml:"top"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Region) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("region width and height must be positive")
	}
	if r.Left < 0 || r.Top < 0 {
		return fmt.Errorf("region origin must be non-negative")
	}
	return nil
}

// Contains reports whether the point lies inside the rectangle.
func (r Region) Contains(x, y int) bool {
	return x >= r.Left && y >= r.Top && x < r.Left+r.Width && y < r.Top+r.Height
}

// ClampPoint moves the point to the nearest position inside the rectangle.
func (r Region) ClampPoint(x, y int) (int, int) {
	maxX := r.Left + r.Width - 1
	maxY := r.Top + r.Height - 1
	if x < r.Left {
		x = r.Left
	}
	if x > maxX {
		x = maxX
	}
	if y < r.Top {
		y = r.Top
	}
	if y > maxY {
		y = maxY
	}
	return x, y
}

// FracRegion is a rectangle expressed as fractions of frame dimensions,
// so region selection stays resolution-independent across capture modes.
type FracRegion struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

func (f FracRegion) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("fractional region width and height must be positive")
	}
	if f.Left < 0 || f.Top < 0 || f.Left+f.Width > 1 || f.Top+f.Height > 1 {
		return fmt.Errorf("fractional region must stay within [0,1]")
	}
	return nil
}

// PixelsIn converts the fractional rectangle into pixels for a frame of
// the given dimensions. Doubling the frame dimensions doubles the pixel
// rectangle.
func (f FracRegion) PixelsIn(width, height int) Region {
	return Region{
		Left:   int(f.Left * float64(width)),
		Top:    int(f.Top * float64(height)),
		Width:  int(f.Width * float64(width)),
		Height: int(f.Height * float64(height)),
	}
}

// FracPoint is a display position expressed as fractions of frame
// dimensions.
type FracPoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p FracPoint) PixelsIn(width, height int) (int, int) {
	return int(p.X * float64(width)), int(p.Y * float64(height))
}

// LineRef identifies the text line a recognized word belongs to within
// the recognizer's page layout.
type LineRef struct {
	Block int
	Par   int
	Line  int
}

// OCRToken is one recognized word with its bounding region in source
// image coordinates. Token order within a slice is unspecified;
// confidence is carried but unused by the classifier.
type OCRToken struct {
	Text       string
	Region     Region
	Confidence float64
	Line       LineRef
}

// FingerprintChanged is the single comparison point deciding whether the
// observed view advanced. An empty fingerprint never counts as a change:
// a failed read must not be mistaken for a successful navigation.
func FingerprintChanged(before, after string) bool {
	return after != "" && after != before
}

type Outcome string

const (
	OutcomeAdvanced Outcome = "advanced"
	OutcomeNoChange Outcome = "no_change"
)

// NavigationResult reports one completed advance call. Hard failures
// (precondition, capture) are errors, not outcomes.
type NavigationResult struct {
	Outcome      Outcome
	Attempts     int
	FallbackUsed bool
	Before       string
	After        string
}

// Error codes defined by the API contract.
const (
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrCaptureFailed      = "E_CAPTURE_FAILED"
	ErrRecognizerFailed   = "E_RECOGNIZER_FAILED"
	ErrInjectionBlocked   = "E_INJECTION_BLOCKED"
	ErrStreamDown         = "E_STREAM_DOWN"
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
)

// CodedError carries an API error code alongside the wrapped cause so
// HTTP surfaces can map failures without string matching.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the API error code from err, or "" when err
// carries none.
func ErrorCode(err error) string {
	for err != nil {
		if coded, ok := err.(*CodedError); ok {
			return coded.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
