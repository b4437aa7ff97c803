package hybrid

import (
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Mode selects when the accurate recognizer is consulted.
type Mode string

const (
	// ModeSmart escalates only when the fast confidence is below the high mark.
	ModeSmart Mode = "smart"
	// ModeAlwaysBoth runs both recognizers for every probe.
	ModeAlwaysBoth Mode = "always_both"
	// ModeFallback runs the accurate recognizer only when fast finds nothing.
	ModeFallback Mode = "fallback"
)

// Modes lists all modes in a stable order.
var Modes = []Mode{ModeSmart, ModeAlwaysBoth, ModeFallback}

// ParseMode parses a mode name. The empty string yields ModeSmart.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeSmart, nil
	case ModeSmart, ModeAlwaysBoth, ModeFallback:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown recognition mode %q (valid: smart, always_both, fallback)", s)
}

// Method records which path produced a decision.
type Method string

const (
	MethodFastOnly         Method = "FAST_ONLY"
	MethodAccurateOnly     Method = "ACCURATE_ONLY"
	MethodBothAgree        Method = "BOTH_AGREE"
	MethodFastPriority     Method = "FAST_PRIORITY"
	MethodAccuratePriority Method = "ACCURATE_PRIORITY"
	MethodFastUnvalidated  Method = "FAST_UNVALIDATED"
	MethodAccurateFallback Method = "ACCURATE_FALLBACK"
	MethodBothUncertain    Method = "BOTH_UNCERTAIN"
	MethodBothNoMatch      Method = "BOTH_NO_MATCH"
	MethodNoFace           Method = "NO_FACE"
	MethodError            Method = "ERROR"
)

// Decision is the final answer for one probe together with the evidence
// from each recognizer that was actually run.
type Decision struct {
	IdentityID     *int64                 `json:"identity_id"`
	Confidence     float64                `json:"confidence"`
	Method         Method                 `json:"method,omitempty"`
	Mode           Mode                   `json:"mode"`
	Fast           *facematch.MatchResult `json:"fast_result,omitempty"`
	Accurate       *facematch.MatchResult `json:"accurate_result,omitempty"`
	Agreement      *bool                  `json:"agreement"`
	ProcessingTime float64                `json:"processing_time_seconds"`
	Error          string                 `json:"error,omitempty"`

	// AccurateCalled is set when the accurate extractor was invoked.
	AccurateCalled bool `json:"accurate_called"`
}

// Matched reports whether the decision names an identity.
func (d Decision) Matched() bool {
	return d.IdentityID != nil
}

// Identity returns the accepted identity and whether there was one.
func (d Decision) Identity() (int64, bool) {
	if d.IdentityID == nil {
		return 0, false
	}
	return *d.IdentityID, true
}

// Duration returns ProcessingTime as a time.Duration.
func (d Decision) Duration() time.Duration {
	return time.Duration(d.ProcessingTime * float64(time.Second))
}

func (d *Decision) accept(id int64, confidence float64, method Method) {
	d.IdentityID = facematch.IDPtr(id)
	d.Confidence = confidence
	d.Method = method
}

func (d *Decision) reject(method Method) {
	d.IdentityID = nil
	d.Confidence = 0
	d.Method = method
}

func (d *Decision) fail(err error) {
	d.reject(MethodError)
	d.Agreement = nil
	d.Error = err.Error()
}

func boolPtr(b bool) *bool {
	return &b
}
