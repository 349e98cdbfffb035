package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
)

// EmbedStore holds the embed credentials set by the embedding host.
// It implements port.EmbedStore.
type EmbedStore struct {
	mu      sync.RWMutex
	current *domain.EmbedContext
	now     func() time.Time
}

// NewEmbedStore creates an empty embed store.
func NewEmbedStore() *EmbedStore {
	return &EmbedStore{now: time.Now}
}

// Embed returns a copy of the current embed context.
func (s *EmbedStore) Embed(_ context.Context) (*domain.EmbedContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, false
	}
	c := *s.current
	return &c, true
}

// Set replaces the embed context as-is.
func (s *EmbedStore) Set(ec domain.EmbedContext) {
	s.mu.Lock()
	s.current = &ec
	s.mu.Unlock()
}

// Clear removes the embed context.
func (s *EmbedStore) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

type embedClaims struct {
	ProjectUUID string `json:"projectUuid,omitempty"`
	jwt.RegisteredClaims
}

// SetToken inspects token as a JWT (the signature is verified by the API,
// not here), rejects it when expired and stores it. When projectUUID is
// empty the token's projectUuid claim is used.
func (s *EmbedStore) SetToken(token, projectUUID string) (*domain.EmbedContext, error) {
	if token == "" {
		return nil, &domain.ErrValidation{Field: "token", Message: "is required"}
	}

	claims := &embedClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, &domain.ErrValidation{Field: "token", Message: "malformed embed token: " + err.Error()}
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(s.now()) {
		return nil, &domain.ErrUnauthorized{Message: "embed token expired"}
	}

	if projectUUID == "" {
		projectUUID = claims.ProjectUUID
	}

	ec := domain.EmbedContext{Token: token, ProjectUUID: projectUUID}
	s.Set(ec)
	return &ec, nil
}

// TokenFingerprint hashes a token for logs and diagnostics.
func TokenFingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:12]
}
