// Package auth decides whether an HTTP request to the vault server carries
// a valid credential.
//
// The default Authenticator is a StaticToken: one shared secret, compared
// in constant time, that the gateway reads from the Authorization bearer
// header or the token query parameter. A deployment that sits behind an
// OAuth 2.0 / OIDC authorization server can instead use NewFromDiscovery,
// which validates RFC 9068 access tokens against the issuer's published key
// set:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "http://127.0.0.1:27123/mcp",
//	    auth.WithRequiredScopes("vault:read"),
//	)
//
// # Errors
//
// ErrUnauthorized signals a missing or invalid credential. ErrMisconfigured
// signals that the server itself has no token to compare against.
// ErrInsufficientScope signals a valid JWT without the required scopes.
// ChallengeFor turns any of them into the status, header and body the
// gateway sends.
package auth
