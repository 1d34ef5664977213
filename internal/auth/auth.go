// Package auth binds bearer credentials to principal identities and enforces
// that a principal may only write into the namespace matching its identity.
package auth

import (
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
)

// Principal is an authenticated identity derived from a presented credential.
type Principal string

// UnauthorizedError covers missing, malformed, and unknown credentials. The
// message distinguishes the cases for logs; all map to the same boundary
// failure class.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.Reason }

// ForbiddenError reports a known principal attempting to act on a namespace
// it does not own. Kept distinct from UnauthorizedError so the attempt can be
// audited as a cross-tenant access.
type ForbiddenError struct {
	Principal Principal
	Namespace string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("principal %q is not authorized for namespace %q", e.Principal, e.Namespace)
}

// Gate authenticates credentials against an immutable table constructed at
// startup. It holds no mutable state and is safe for concurrent use.
type Gate struct {
	secrets map[Principal]string
}

// NewGate builds a gate from a principal→secret table. Empty principals or
// secrets are configuration errors.
func NewGate(table map[string]string) (*Gate, error) {
	secrets := make(map[Principal]string, len(table))
	for principal, secret := range table {
		if strings.TrimSpace(principal) == "" {
			return nil, fmt.Errorf("credential table: empty principal")
		}
		if secret == "" {
			return nil, fmt.Errorf("credential table: empty secret for principal %q", principal)
		}
		secrets[Principal(principal)] = secret
	}
	return &Gate{secrets: secrets}, nil
}

// Principals returns the configured identities in sorted order. Each
// principal owns exactly one namespace of the same name.
func (g *Gate) Principals() []string {
	out := make([]string, 0, len(g.secrets))
	for p := range g.secrets {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Authenticate resolves an Authorization header value to a principal.
// Credentials are matched by exact value only; comparison is constant-time
// per candidate secret.
func (g *Gate) Authenticate(header string) (Principal, error) {
	if header == "" {
		return "", &UnauthorizedError{Reason: "missing Authorization: Bearer <token>"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", &UnauthorizedError{Reason: "authorization scheme must be Bearer"}
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", &UnauthorizedError{Reason: "missing Authorization: Bearer <token>"}
	}
	for principal, secret := range g.secrets {
		if len(secret) == len(token) && subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1 {
			return principal, nil
		}
	}
	return "", &UnauthorizedError{Reason: "invalid token"}
}

// AuthorizeNamespace permits a write iff the principal's identity equals the
// namespace identifier exactly. There is no role hierarchy, delegation, or
// admin override; this equality is the whole cross-agent guarantee at the
// authorization layer.
func (g *Gate) AuthorizeNamespace(principal Principal, namespaceID string) error {
	if string(principal) != namespaceID {
		return &ForbiddenError{Principal: principal, Namespace: namespaceID}
	}
	return nil
}
