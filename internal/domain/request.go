package domain

import (
	"encoding/json"
	"strings"
)

// Method is an HTTP method accepted by the API client.
type Method string

const (
	MethodGet    Method = "GET"
	MethodDelete Method = "DELETE"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodPut    Method = "PUT"
)

// AllowsBody reports whether a request with this method may carry a body.
func (m Method) AllowsBody() bool {
	switch m {
	case MethodPost, MethodPatch, MethodPut:
		return true
	}
	return false
}

// RequiresBody reports whether a request with this method must carry a body.
func (m Method) RequiresBody() bool {
	return m.AllowsBody()
}

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodDelete, MethodPost, MethodPatch, MethodPut:
		return true
	}
	return false
}

// APIVersion selects the API namespace (/api/v1 or /api/v2).
type APIVersion string

const (
	APIVersionV1 APIVersion = "v1"
	APIVersionV2 APIVersion = "v2"

	DefaultAPIVersion = APIVersionV1
)

// Valid reports whether v is a supported API version.
func (v APIVersion) Valid() bool {
	return v == APIVersionV1 || v == APIVersionV2
}

// NullBody is the explicit empty body for POST/PATCH/PUT requests.
// It is sent on the wire as JSON null.
var NullBody = json.RawMessage("null")

// Request describes one API call. Cancellation is carried by the
// context passed to the client.
type Request struct {
	Method  Method
	Path    string
	Body    any
	Headers map[string]string
	Version APIVersion
}

// APIVersionOrDefault returns the request version, falling back to v1.
func (r *Request) APIVersionOrDefault() APIVersion {
	if r.Version == "" {
		return DefaultAPIVersion
	}
	return r.Version
}

// Validate checks the request descriptor contract.
func (r *Request) Validate() error {
	if !r.Method.Valid() {
		return &ErrValidation{Field: "method", Message: "unsupported method " + string(r.Method)}
	}
	if !strings.HasPrefix(r.Path, "/") {
		return &ErrValidation{Field: "path", Message: "must begin with /"}
	}
	if r.Version != "" && !r.Version.Valid() {
		return &ErrValidation{Field: "version", Message: "must be v1 or v2"}
	}
	if r.Method.RequiresBody() && r.Body == nil {
		return &ErrValidation{Field: "body", Message: string(r.Method) + " requires a body (use NullBody for an empty one)"}
	}
	if !r.Method.AllowsBody() && r.Body != nil {
		return &ErrValidation{Field: "body", Message: string(r.Method) + " must not carry a body"}
	}
	return nil
}

// Get builds a GET request.
func Get(path string) *Request {
	return &Request{Method: MethodGet, Path: path}
}

// Delete builds a DELETE request.
func Delete(path string) *Request {
	return &Request{Method: MethodDelete, Path: path}
}

// Post builds a POST request. A nil body is sent as NullBody.
func Post(path string, body any) *Request {
	return &Request{Method: MethodPost, Path: path, Body: bodyOrNull(body)}
}

// Patch builds a PATCH request. A nil body is sent as NullBody.
func Patch(path string, body any) *Request {
	return &Request{Method: MethodPatch, Path: path, Body: bodyOrNull(body)}
}

// Put builds a PUT request. A nil body is sent as NullBody.
func Put(path string, body any) *Request {
	return &Request{Method: MethodPut, Path: path, Body: bodyOrNull(body)}
}

// WithVersion sets the API version and returns r.
func (r *Request) WithVersion(v APIVersion) *Request {
	r.Version = v
	return r
}

// WithHeader sets a caller header and returns r.
func (r *Request) WithHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func bodyOrNull(body any) any {
	if body == nil {
		return NullBody
	}
	return body
}
