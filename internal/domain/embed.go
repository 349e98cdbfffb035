package domain

// EmbedContext is the credential pair set by an embedding host.
type EmbedContext struct {
	Token       string `json:"token"`
	ProjectUUID string `json:"projectUuid,omitempty"`
}

// SessionKeyAPIOrigin is the session key holding the API origin override.
const SessionKeyAPIOrigin = "lightdash.apiOrigin"
