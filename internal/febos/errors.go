package febos

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the remote service reports that a device or
// installation no longer exists. The coordinator removes the device on this
// error instead of marking it unavailable.
var ErrNotFound = errors.New("febos: not found")

// AuthError means the credentials were rejected or the session could not be
// re-established. It is fatal for the owning account until the credentials
// are corrected.
type AuthError struct {
	Reason string
	Err    error
}

func (e AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("febos auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("febos auth: %s", e.Reason)
}

func (e AuthError) Unwrap() error { return e.Err }

// NetworkError wraps transient connectivity and timeout failures. These are
// eligible for retry under the transport policy.
type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("febos network: %s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// APIError surfaces a non-zero errCode from the Febos response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return fmt.Sprintf("febos api error %d: %s", e.Code, e.Msg)
}

// HTTPStatusError reports a non-2xx response outside the auth path.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("febos http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsAuthError reports whether err is terminal for the account's session.
func IsAuthError(err error) bool {
	var authErr AuthError
	return errors.As(err, &authErr)
}

// Retryable reports whether a read may be reissued for err. Writes are never
// retried regardless of this: a duplicated set command has physical side
// effects.
func Retryable(err error) bool {
	var netErr NetworkError
	return errors.As(err, &netErr)
}

// shouldRetry is the transport retry policy: a function of error kind and
// attempt count rather than nested handlers.
func shouldRetry(err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return Retryable(err)
}
