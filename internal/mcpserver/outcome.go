package mcpserver

// OutcomeKind classifies how a connect attempt settled.
type OutcomeKind string

const (
	// OutcomeConnected means the handshake and capability fetch succeeded.
	OutcomeConnected OutcomeKind = "connected"

	// OutcomeNeedsAuth means the server answered 401; the connection sits
	// in unauthorized with an authorization URL until the flow completes.
	OutcomeNeedsAuth OutcomeKind = "needs_auth"

	// OutcomeTransportError covers connect, handshake and capability fetch
	// failures; the connection is back in disconnected with Err recorded.
	OutcomeTransportError OutcomeKind = "transport_error"

	// OutcomeFatal means the configuration cannot produce a client at all,
	// for example unresolved placeholders. Retrying without a config
	// change will not help.
	OutcomeFatal OutcomeKind = "fatal"
)

// ConnectOutcome is the per-server result of a connect attempt. It is a
// value, not an error: the coordinator connects servers in parallel and
// needs every outcome to settle the batch.
type ConnectOutcome struct {
	Server string
	Kind   OutcomeKind

	// AuthorizationURL is set for OutcomeNeedsAuth.
	AuthorizationURL string

	// Err is set for every kind except OutcomeConnected.
	Err error
}

// OK reports whether the connection ended up connected.
func (o ConnectOutcome) OK() bool {
	return o.Kind == OutcomeConnected
}
