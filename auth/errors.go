package auth

import "github.com/pkg/errors"

// ErrUnauthenticated is the kind every authentication failure wraps: a
// missing or malformed token, a bad signature, an expired or premature
// claim, an unknown issuer, a disallowed audience or a key fetch that did
// not produce usable keys. Hosts answer it with HTTP 401.
var ErrUnauthenticated = errors.New("unauthenticated")
