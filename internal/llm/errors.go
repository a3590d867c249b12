package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stellarlinkco/docarena/internal/claude"
)

// CallError classifies an adapter failure as transient (worth retrying)
// or fatal.
type CallError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *CallError) Error() string {
	if e == nil {
		return "llm: call error <nil>"
	}
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("llm: %s: %s call error: %v", e.Provider, kind, e.Err)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify wraps an adapter error with its transient/fatal classification.
// Context errors pass through unchanged so deadline handling stays with
// the caller.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &CallError{
		Provider:   provider,
		StatusCode: statusCode(err),
		Transient:  transient(err),
		Err:        err,
	}
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return transient(err)
}

func statusCode(err error) int {
	var apiErr *claude.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return oaErr.HTTPStatusCode
	}
	return 0
}

func transient(err error) bool {
	if err == nil {
		return false
	}

	if code := statusCode(err); code != 0 {
		return retryableStatus(code)
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}
