package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error types for consistent error handling across the BFF.

const (
	// NetworkErrorName marks errors synthesized by the client when no
	// structured envelope could be read.
	NetworkErrorName       = "NetworkError"
	NetworkErrorStatusCode = http.StatusInternalServerError
	NetworkErrorMessage    = "We couldn't reach the server. Please check your connection and try again."

	// DeactivatedAccountErrorName is returned by the API when the session
	// belongs to a deactivated user.
	DeactivatedAccountErrorName = "DeactivatedAccountError"

	// SignInPath is where deactivated users are sent.
	SignInPath = "/login"
)

// APIError is the error shape every client call settles with.
type APIError struct {
	Name       string `json:"name"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.StatusCode, e.Message)
}

// Unwrap exposes Data when it is itself an error, so callers can match
// context.Canceled or *ResponseError with errors.Is / errors.As.
func (e *APIError) Unwrap() error {
	if err, ok := e.Data.(error); ok {
		return err
	}
	return nil
}

// IsApplicationError reports whether e has the server error shape.
func (e *APIError) IsApplicationError() bool {
	return e != nil && e.Name != "" && e.StatusCode != 0
}

// IsNetworkError reports whether e was synthesized by the client.
func (e *APIError) IsNetworkError() bool {
	return e != nil && e.Name == NetworkErrorName
}

// MarshalJSON renders error-valued Data as its message.
func (e *APIError) MarshalJSON() ([]byte, error) {
	type plain APIError
	out := plain(*e)
	if err, ok := e.Data.(error); ok {
		out.Data = err.Error()
	}
	return json.Marshal(out)
}

// NewNetworkError wraps a cause that never produced an application error.
func NewNetworkError(cause any) *APIError {
	return &APIError{
		Name:       NetworkErrorName,
		StatusCode: NetworkErrorStatusCode,
		Message:    NetworkErrorMessage,
		Data:       cause,
	}
}

// ResponseError carries a raw non-OK response from the streaming client.
// The receiver owns Response.Body and must close it.
type ResponseError struct {
	Response *http.Response
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.Response.StatusCode)
}

// StatusCode returns the transport status of the wrapped response.
func (e *ResponseError) StatusCode() int {
	return e.Response.StatusCode
}

// ProtocolError carries an envelope whose status tag is unknown.
type ProtocolError struct {
	Status string
	Raw    json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected envelope status %q", e.Status)
}

// UnexpectedBodyError carries a non-OK JSON body that is not an error envelope.
type UnexpectedBodyError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *UnexpectedBodyError) Error() string {
	return fmt.Sprintf("unexpected response body for status %d", e.StatusCode)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates an invalid credential or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
