package tenant

import "net/http"

// StaticAuthenticator is a development-only authenticator that accepts any
// bsk_ key and derives the tenant from a header.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (*Context, error) {
	if _, err := ExtractBearerToken(r); err != nil {
		return nil, err
	}
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = "dev"
	}
	return &Context{
		TenantID: tenantID,
		ActorID:  r.Header.Get("X-Actor-ID"),
		Role:     "admin",
	}, nil
}
