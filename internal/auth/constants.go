package auth

// Credential carriers read by the gate.
const (
	// HeaderXAPIKey carries the application shared secret.
	HeaderXAPIKey = "X-Api-Key"

	// HeaderXTokenAuth carries a user session token.
	HeaderXTokenAuth = "X-Token-Auth"

	// HeaderXUserKey carries a long-lived user key. It is consulted only
	// when X-Token-Auth is absent.
	HeaderXUserKey = "X-User-Key"

	// QueryTokenAuth carries an Action JWT on unkeyed link routes.
	QueryTokenAuth = "x-token-auth"
)

// AuthSchemeBearer is tolerated as a prefix on session headers.
const AuthSchemeBearer = "Bearer "
