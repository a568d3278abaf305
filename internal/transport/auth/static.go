package auth

import "net/http"

// StaticTableAuthenticator matches a bearer token against a fixed,
// operator-configured table — spec §6's actual auth contract ("Bearer
// <token> matched against a static key table"), as opposed to a JWT
// issuer's signing/claims dance.
type StaticTableAuthenticator map[string]Principal

func (t StaticTableAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	token, ok := bearerToken(r)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	p, found := t[token]
	if !found {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}
