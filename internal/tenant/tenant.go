// Package tenant carries caller identity and enforces tenant isolation.
//
// Isolation is checked in application logic, not delegated to storage: any
// component acting on a record compares tenant ids explicitly and fails
// closed on mismatch.
package tenant

import (
	"errors"
	"net/http"
	"strings"
)

// Context identifies the tenant and actor behind a call.
type Context struct {
	TenantID string
	ActorID  string // empty for fully automated callers
	Role     string
}

// Validate rejects contexts without a tenant.
func (c Context) Validate() error {
	if c.TenantID == "" {
		return errors.New("tenant id is required")
	}
	return nil
}

// SameTenant reports whether the context may act on data owned by tenantID.
func (c Context) SameTenant(tenantID string) bool {
	return c.TenantID != "" && c.TenantID == tenantID
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator validates an incoming request and returns its tenant Context.
type Authenticator interface {
	Authenticate(r *http.Request) (*Context, error)
}

// ExtractBearerToken extracts a bsk_ API key from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, "bsk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
