package bridge

import (
	"strings"

	"github.com/starford/notesync/internal/apperr"
)

// Output prefixes. Native callers only inspect the returned string, so the
// first token decides success.
const (
	prefixOK  = "OK: "
	prefixErr = "ERR "
)

// Result is the outcome of one bridge call before it is flattened to text.
type Result struct {
	Err     error
	Kind    apperr.Kind
	Summary string
	// Payload follows the summary line.
	Payload string
}

func ok(summary, payload string) Result {
	return Result{Summary: summary, Payload: payload}
}

func fail(err error) Result {
	return Result{Err: err, Kind: apperr.KindOf(err)}
}

// String renders the result:
//
//	OK: <summary>[\n<payload>]
//	ERR <kind>: <message>
func (r Result) String() string {
	if r.Err != nil {
		return prefixErr + string(r.Kind) + ": " + oneLine(r.Err.Error())
	}
	if r.Payload == "" {
		return prefixOK + r.Summary
	}
	return prefixOK + r.Summary + "\n" + r.Payload
}

// IsError reports whether out is a rendered failure.
func IsError(out string) bool {
	return strings.HasPrefix(out, prefixErr)
}

// Body returns the payload of a rendered success, without the summary line.
func Body(out string) string {
	_, payload, _ := strings.Cut(out, "\n")
	return payload
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
