package model

import "errors"

// Error kinds shared by every pipeline stage. Stage errors wrap one of these
// so the orchestrator can decide how loudly to report them.
var (
	// ErrInput covers missing or unreadable files and malformed schemas.
	ErrInput = errors.New("input error")
	// ErrModel covers unparsable models, feature count mismatches and
	// out-of-range tree indices.
	ErrModel = errors.New("model error")
	// ErrIO covers failures writing the malicious or alert logs.
	ErrIO = errors.New("io error")
)

// Kind returns a short label for the error kind, used in log fields and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrModel):
		return "model"
	case errors.Is(err, ErrInput):
		return "input"
	default:
		return "unknown"
	}
}
