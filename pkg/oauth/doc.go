// Package oauth implements the client side of OAuth 2.1 for remote MCP
// servers that answer 401 with an authorization challenge.
//
// # Core components
//
//   - Token: access/refresh token pair with expiry checking
//   - Metadata: authorization server metadata (RFC 8414, OIDC fallback)
//   - AuthChallenge: parsed WWW-Authenticate header
//   - PKCEChallenge: Proof Key for Code Exchange values (RFC 7636, S256)
//   - Client: metadata discovery, dynamic registration (RFC 7591),
//     authorization URL build, code exchange and token refresh
//   - FileStore: flock-guarded JSON persistence of tokens and client
//     registrations, keyed by normalized server URL
//
// The package has no dependency on the rest of the hub; the hub's
// coordinator wires Client and FileStore together and owns the flow
// state (which server a pending authorization belongs to).
package oauth
