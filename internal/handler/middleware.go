package handler

import (
	"context"
	"net/http"
	"sync"
)

// Navigation headers exchanged with the frontend.
const (
	HeaderCurrentLocation = "X-Current-Location"
	HeaderRedirectTo      = "X-Redirect-To"
)

type contextKey string

const navigationKey contextKey = "navigation"

type navigation struct {
	mu       sync.Mutex
	location string
	redirect string
}

// NavigationMiddleware stores the caller's current location in the request
// context so the API client can decide whether to send the user to sign in.
func NavigationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nav := &navigation{location: r.Header.Get(HeaderCurrentLocation)}
		ctx := context.WithValue(r.Context(), navigationKey, nav)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func navigationFrom(ctx context.Context) *navigation {
	nav, _ := ctx.Value(navigationKey).(*navigation)
	return nav
}

// ContextNavigator implements port.Navigator on top of NavigationMiddleware.
// Outside a request it reports no location and drops redirects.
type ContextNavigator struct{}

// Location returns the caller's current location, or "".
func (ContextNavigator) Location(ctx context.Context) string {
	nav := navigationFrom(ctx)
	if nav == nil {
		return ""
	}
	nav.mu.Lock()
	defer nav.mu.Unlock()
	return nav.location
}

// Redirect records path as the location the caller must move to.
func (ContextNavigator) Redirect(ctx context.Context, path string) {
	nav := navigationFrom(ctx)
	if nav == nil {
		return
	}
	nav.mu.Lock()
	nav.redirect = path
	nav.mu.Unlock()
}

// RedirectFromContext returns the redirect recorded during the request.
func RedirectFromContext(ctx context.Context) (string, bool) {
	nav := navigationFrom(ctx)
	if nav == nil {
		return "", false
	}
	nav.mu.Lock()
	defer nav.mu.Unlock()
	return nav.redirect, nav.redirect != ""
}
