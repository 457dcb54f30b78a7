package hub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"mcphub/pkg/logging"
	"mcphub/pkg/oauth"
)

// flowTTL is how long a pending authorization flow stays redeemable. A
// user who walks away mid-consent has to start over.
const flowTTL = 10 * time.Minute

// oauthClientName is the client_name sent during dynamic registration.
const oauthClientName = "mcp-hub"

// pendingFlow is one authorization attempt awaiting its callback, keyed
// by the state parameter.
type pendingFlow struct {
	server        string
	serverURL     string
	tokenEndpoint string
	clientID      string
	redirectURI   string
	codeVerifier  string
	createdAt     time.Time
}

// OAuthManager drives the client-side OAuth dance for remote servers:
// it serves stored tokens to connections, builds authorization URLs on
// 401 challenges, and redeems callbacks into persisted tokens.
//
// It implements mcpserver.AuthFlow.
type OAuthManager struct {
	client       *oauth.Client
	store        *oauth.FileStore
	callbackBase string

	mu    sync.Mutex
	flows map[string]*pendingFlow
}

// NewOAuthManager wires the OAuth protocol client to the token store.
// callbackBase is the hub's callback endpoint, for example
// "http://localhost:37373/oauth/callback".
func NewOAuthManager(client *oauth.Client, store *oauth.FileStore, callbackBase string) *OAuthManager {
	return &OAuthManager{
		client:       client,
		store:        store,
		callbackBase: callbackBase,
		flows:        make(map[string]*pendingFlow),
	}
}

// Header returns the Authorization value for a server with a stored
// token. Tokens near expiry are refreshed first when a refresh token is
// available; an unusable token yields ok=false and the connection
// proceeds unauthenticated (and parks on the resulting 401).
func (m *OAuthManager) Header(ctx context.Context, serverName, serverURL string) (string, bool) {
	token, err := m.store.GetToken(serverURL)
	if err != nil {
		logging.Warn("OAuth", "Failed to read token for %s: %v", serverName, err)
		return "", false
	}
	if token == nil {
		return "", false
	}

	if token.NeedsRefresh() {
		if refreshed := m.refresh(ctx, serverName, serverURL, token); refreshed != nil {
			token = refreshed
		}
	}

	if token.AccessToken == "" || token.IsExpired() {
		return "", false
	}
	return "Bearer " + token.AccessToken, true
}

// refresh exchanges the refresh token and persists the result. Returns
// nil when refreshing is impossible or fails; the stale token stays in
// place so the caller can still try it.
func (m *OAuthManager) refresh(ctx context.Context, serverName, serverURL string, token *oauth.Token) *oauth.Token {
	registration, err := m.store.GetRegistration(serverURL)
	if err != nil || registration == nil {
		return nil
	}

	metadata, err := m.client.DiscoverMetadata(ctx, oauth.NormalizeServerURL(serverURL))
	if err != nil {
		logging.Debug("OAuth", "Metadata discovery for token refresh failed for %s: %v", serverName, err)
		return nil
	}

	refreshed, err := m.client.RefreshToken(ctx, metadata.TokenEndpoint, token.RefreshToken, registration.ClientID)
	if err != nil {
		logging.Warn("OAuth", "Token refresh failed for %s: %v", serverName, err)
		return nil
	}
	// Providers may omit the refresh token on rotation; keep the old one.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	if err := m.store.SetToken(ctx, serverURL, refreshed); err != nil {
		logging.Warn("OAuth", "Failed to persist refreshed token for %s: %v", serverName, err)
	}
	logging.Info("OAuth", "Refreshed token for %s", serverName)
	return refreshed
}

// AuthorizationURL starts a new authorization flow for the server and
// returns the URL the user must visit. The flow is held in memory until
// its callback arrives or it expires.
func (m *OAuthManager) AuthorizationURL(ctx context.Context, serverName, serverURL string, challenge *oauth.AuthChallenge) (string, error) {
	issuer := challenge.GetIssuer()
	if issuer == "" {
		issuer = oauth.NormalizeServerURL(serverURL)
	}

	metadata, err := m.client.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("OAuth metadata discovery failed for %s: %w", issuer, err)
	}

	scope := ""
	if challenge != nil {
		scope = challenge.Scope
	}

	redirectURI := m.redirectURIFor(serverName)
	registration, err := m.ensureRegistration(ctx, serverName, serverURL, metadata, redirectURI, scope)
	if err != nil {
		return "", err
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}
	pkce := oauth.GeneratePKCE()

	m.putFlow(state, &pendingFlow{
		server:        serverName,
		serverURL:     serverURL,
		tokenEndpoint: metadata.TokenEndpoint,
		clientID:      registration.ClientID,
		redirectURI:   redirectURI,
		codeVerifier:  pkce.CodeVerifier,
		createdAt:     time.Now(),
	})

	authURL, err := m.client.BuildAuthorizationURL(metadata.AuthorizationEndpoint, registration.ClientID, redirectURI, state, scope, pkce)
	if err != nil {
		return "", err
	}
	logging.Info("OAuth", "Authorization flow started for %s (issuer %s)", serverName, metadata.Issuer)
	return authURL, nil
}

// ensureRegistration returns the stored client registration for the
// server, registering dynamically (RFC 7591) when none exists.
func (m *OAuthManager) ensureRegistration(ctx context.Context, serverName, serverURL string, metadata *oauth.Metadata, redirectURI, scope string) (*oauth.ClientRegistration, error) {
	registration, err := m.store.GetRegistration(serverURL)
	if err != nil {
		return nil, err
	}
	if registration != nil {
		return registration, nil
	}

	if !metadata.SupportsRegistration() {
		return nil, fmt.Errorf("server %s requires authorization but %s does not support dynamic client registration", serverName, metadata.Issuer)
	}

	registration, err = m.client.Register(ctx, metadata.RegistrationEndpoint, &oauth.RegistrationRequest{
		RedirectURIs:            []string{redirectURI},
		ClientName:              oauthClientName,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   scope,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed for %s: %w", serverName, err)
	}

	if err := m.store.SetRegistration(ctx, serverURL, registration); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Registered client %s for %s", registration.ClientID, serverName)
	return registration, nil
}

// Complete redeems an authorization code against the pending flow
// identified by state (or, for callbacks that dropped the state, the
// newest flow for serverName). On success the token is persisted and the
// owning server's name returned so the caller can reconnect it.
func (m *OAuthManager) Complete(ctx context.Context, code, state, serverName string) (string, error) {
	flow := m.takeFlow(state, serverName)
	if flow == nil {
		return "", NewAuthError(serverName, "", fmt.Errorf("no pending authorization flow matches this callback"))
	}

	token, err := m.client.ExchangeCode(ctx, flow.tokenEndpoint, code, flow.redirectURI, flow.clientID, flow.codeVerifier)
	if err != nil {
		return "", NewAuthError(flow.server, "", fmt.Errorf("code exchange failed: %w", err))
	}

	if err := m.store.SetToken(ctx, flow.serverURL, token); err != nil {
		return "", NewAuthError(flow.server, "", fmt.Errorf("failed to persist token: %w", err))
	}
	logging.Info("OAuth", "Authorization complete for %s", flow.server)
	return flow.server, nil
}

// redirectURIFor returns the callback URI for one server. The server
// name rides along as a query parameter so the callback can identify the
// flow even when the client strips the state.
func (m *OAuthManager) redirectURIFor(serverName string) string {
	return m.callbackBase + "?server_name=" + url.QueryEscape(serverName)
}

func (m *OAuthManager) putFlow(state string, flow *pendingFlow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.flows[state] = flow
}

// takeFlow removes and returns the matching flow. Lookup order: exact
// state match (verified against serverName when both are present), then
// newest flow for serverName.
func (m *OAuthManager) takeFlow(state, serverName string) *pendingFlow {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()

	if state != "" {
		flow, ok := m.flows[state]
		if !ok {
			return nil
		}
		if serverName != "" && flow.server != serverName {
			logging.Warn("OAuth", "Callback state belongs to %s, not %s; rejecting", flow.server, serverName)
			return nil
		}
		delete(m.flows, state)
		return flow
	}

	if serverName == "" {
		return nil
	}
	var newestState string
	var newest *pendingFlow
	for s, flow := range m.flows {
		if flow.server != serverName {
			continue
		}
		if newest == nil || flow.createdAt.After(newest.createdAt) {
			newest = flow
			newestState = s
		}
	}
	if newest != nil {
		delete(m.flows, newestState)
	}
	return newest
}

func (m *OAuthManager) pruneLocked() {
	cutoff := time.Now().Add(-flowTTL)
	for state, flow := range m.flows {
		if flow.createdAt.Before(cutoff) {
			logging.Debug("OAuth", "Expiring stale authorization flow for %s", flow.server)
			delete(m.flows, state)
		}
	}
}
