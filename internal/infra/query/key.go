package query

import (
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
)

// Key builds a cache key for req. JSON bodies are canonicalized (RFC 8785)
// so equal payloads with different key order or spacing share a key.
func Key(req *domain.Request) string {
	var b strings.Builder
	b.WriteString(string(req.Method))
	b.WriteByte(' ')
	b.WriteString(string(req.APIVersionOrDefault()))
	b.WriteString(req.Path)

	if req.Body != nil {
		b.WriteByte(' ')
		b.WriteString(canonicalBody(req.Body))
	}
	return b.String()
}

func canonicalBody(body any) string {
	var raw []byte
	switch v := body.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return "<unserializable>"
		}
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
