package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope status tags.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the decoded API response body. It is one of
// *OKEnvelope, *ErrorEnvelope or *UnknownEnvelope.
type Envelope interface {
	envelope()
}

// OKEnvelope carries the results of a successful call. Results is
// never empty: a missing field decodes to JSON null.
type OKEnvelope struct {
	Results json.RawMessage
}

// ErrorEnvelope carries an application error returned by the server.
type ErrorEnvelope struct {
	Error APIError
}

// UnknownEnvelope is a body whose status tag is neither ok nor error.
type UnknownEnvelope struct {
	Status string
	Raw    json.RawMessage
}

func (*OKEnvelope) envelope()      {}
func (*ErrorEnvelope) envelope()   {}
func (*UnknownEnvelope) envelope() {}

type rawEnvelope struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
	Error   *APIError       `json:"error"`
}

// DecodeEnvelope parses a response body and dispatches on its status tag.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch raw.Status {
	case StatusOK:
		results := raw.Results
		if len(results) == 0 {
			results = json.RawMessage("null")
		}
		return &OKEnvelope{Results: results}, nil
	case StatusError:
		env := &ErrorEnvelope{}
		if raw.Error != nil {
			env.Error = *raw.Error
		}
		return env, nil
	default:
		return &UnknownEnvelope{Status: raw.Status, Raw: append(json.RawMessage(nil), body...)}, nil
	}
}

// EncodeOK renders a success envelope.
func EncodeOK(results any) ([]byte, error) {
	return json.Marshal(struct {
		Status  string `json:"status"`
		Results any    `json:"results"`
	}{StatusOK, results})
}

// EncodeError renders an error envelope.
func EncodeError(e *APIError) ([]byte, error) {
	return json.Marshal(struct {
		Status string    `json:"status"`
		Error  *APIError `json:"error"`
	}{StatusError, e})
}
