package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ContextSizeExceededError signals that the prompt plus expected output does
// not fit in the serving endpoint's context window. Limit is the window the
// server reported, 0 when unknown. Distillers recover from this by chunking,
// so it must stay distinguishable from generic failures.
type ContextSizeExceededError struct {
	Limit   int
	Message string
}

func (e *ContextSizeExceededError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("context window exceeded (server limit %d tokens): %s", e.Limit, e.Message)
	}
	return fmt.Sprintf("context window exceeded: %s", e.Message)
}

// IsContextSizeExceeded unwraps err into a ContextSizeExceededError.
func IsContextSizeExceeded(err error) (*ContextSizeExceededError, bool) {
	var cse *ContextSizeExceededError
	if errors.As(err, &cse) {
		return cse, true
	}
	return nil, false
}

var (
	contextErrRe = regexp.MustCompile(`(?i)context.{0,40}(length|window|size)|maximum context|context_length_exceeded|n_ctx`)
	nctxRe       = regexp.MustCompile(`(?i)(?:n_ctx|context (?:length|window|size)(?: of| is)?)\D{0,10}(\d{3,7})`)
)

// classifyGenerateError maps a provider error onto the engine's taxonomy:
// context overflow becomes ContextSizeExceededError (with the reported limit
// parsed out of the server message when present), everything else passes
// through for transient classification.
func classifyGenerateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if contextErrRe.MatchString(msg) {
		limit := 0
		if m := nctxRe.FindStringSubmatch(msg); len(m) == 2 {
			if n, perr := strconv.Atoi(m[1]); perr == nil {
				limit = n
			}
		}
		return &ContextSizeExceededError{Limit: limit, Message: msg}
	}
	return err
}

// IsTransient reports whether err is worth retrying with backoff: timeouts,
// temporary network failures, rate limits, and 5xx-shaped server errors.
// Context overflow is never transient; it has its own recovery path.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := IsContextSizeExceeded(err); ok {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status code: 5", "status 5", " 500", " 502", " 503", " 504",
		"rate limit", "too many requests", "timeout", "temporarily",
		"connection refused", "connection reset", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
