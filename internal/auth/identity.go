package auth

import "strings"

// AnonymousID is the identity used for rate limiting when no bearer token is
// presented.
const AnonymousID = "anonymous"

type Identity struct {
	ID            string
	Name          string
	Token         string
	Authenticated bool
}

// Resolver turns a bearer token into an Identity. Requests without a token
// resolve to the anonymous identity; a token that fails verification is an
// error rather than a silent downgrade.
type Resolver struct {
	secret   []byte
	fallback string
}

func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret), fallback: AnonymousID}
}

func (r *Resolver) Resolve(bearer string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{ID: r.fallback}, nil
	}
	claims, err := ParseToken(r.secret, bearer)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:            claims.Subject,
		Name:          claims.Name,
		Token:         bearer,
		Authenticated: true,
	}, nil
}

// RateKey is the limiter key for an identity. Authenticated callers are
// limited per account; anonymous callers per origin (client address or
// session), so one anonymous visitor cannot exhaust the budget of all others.
func RateKey(identity Identity, origin string) string {
	if identity.Authenticated {
		return identity.ID
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return AnonymousID
	}
	return AnonymousID + ":" + origin
}
