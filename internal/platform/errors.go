package platform

import "fmt"

// APIError is a failed platform call. An ambiguous error means the request
// may have been applied, so the post must be treated as possibly published.
type APIError struct {
	Op        string
	Status    int
	Code      int
	Err       error
	ambiguous bool
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("platform %s: code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Ambiguous() bool { return e.ambiguous }
