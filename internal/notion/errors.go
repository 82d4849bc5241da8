package notion

import "fmt"

// AuthError reports a 401/403 from the API. Never retried; the token is
// wrong or lacks access, and repeating the call cannot fix that.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notion auth failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion auth failed (%d)", e.Status)
}

// RequestError reports a non-retryable 4xx other than 401/403/429.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notion request failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion request failed (%d)", e.Status)
}

// TransportError reports exhausted retries on 429, 5xx, or network-level
// failures. The caller may re-invoke the sync later.
type TransportError struct {
	Status   int // last HTTP status, 0 for network errors
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notion request gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("notion request gave up after %d attempts (last status %d)", e.Attempts, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }
