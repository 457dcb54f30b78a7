package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mcphub/internal/mcpserver"
	"mcphub/pkg/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ mcpserver.AuthFlow = (*OAuthManager)(nil)

// fakeProvider is an in-process authorization server covering metadata
// discovery, dynamic registration and the token endpoint.
type fakeProvider struct {
	srv *httptest.Server

	mu               sync.Mutex
	registrations    []oauth.RegistrationRequest
	tokenForms       []url.Values
	withRegistration bool
	rotatedRefresh   string
	refuseRefresh    bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{withRegistration: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		md := oauth.Metadata{
			Issuer:                        p.srv.URL,
			AuthorizationEndpoint:         p.srv.URL + "/authorize",
			TokenEndpoint:                 p.srv.URL + "/token",
			CodeChallengeMethodsSupported: []string{"S256"},
		}
		if p.withRegistration {
			md.RegistrationEndpoint = p.srv.URL + "/register"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(md)
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var req oauth.RegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.registrations = append(p.registrations, req)
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(oauth.ClientRegistration{
			ClientID:     "client-123",
			RedirectURIs: req.RedirectURIs,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.tokenForms = append(p.tokenForms, r.PostForm)
		refuse := p.refuseRefresh
		rotated := p.rotatedRefresh
		p.mu.Unlock()

		var token oauth.Token
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			token = oauth.Token{AccessToken: "tok-access", TokenType: "Bearer", RefreshToken: "tok-refresh", ExpiresIn: 3600}
		case "refresh_token":
			if refuse {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			token = oauth.Token{AccessToken: "tok-rotated", TokenType: "Bearer", RefreshToken: rotated, ExpiresIn: 3600}
		default:
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(token)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) lastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenForms) == 0 {
		return nil
	}
	return p.tokenForms[len(p.tokenForms)-1]
}

func (p *fakeProvider) registrationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registrations)
}

func newTestManager(t *testing.T) (*OAuthManager, *oauth.FileStore) {
	t.Helper()
	store := oauth.NewFileStore(filepath.Join(t.TempDir(), "oauth.json"))
	m := NewOAuthManager(oauth.NewClient(), store, "http://localhost:37373/oauth/callback")
	return m, store
}

func TestHeaderWithoutToken(t *testing.T) {
	m, _ := newTestManager(t)

	header, ok := m.Header(context.Background(), "github", "https://api.example.com/mcp")
	assert.False(t, ok)
	assert.Empty(t, header)
}

func TestHeaderWithStoredToken(t *testing.T) {
	m, store := newTestManager(t)
	serverURL := "https://api.example.com/mcp"
	require.NoError(t, store.SetToken(context.Background(), serverURL, &oauth.Token{
		AccessToken: "abc",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	header, ok := m.Header(context.Background(), "github", serverURL)
	require.True(t, ok)
	assert.Equal(t, "Bearer abc", header)
}

func TestHeaderExpiredTokenWithoutRefreshToken(t *testing.T) {
	m, store := newTestManager(t)
	serverURL := "https://api.example.com/mcp"
	require.NoError(t, store.SetToken(context.Background(), serverURL, &oauth.Token{
		AccessToken: "abc",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))

	_, ok := m.Header(context.Background(), "github", serverURL)
	assert.False(t, ok)
}

func TestHeaderRefreshesExpiringToken(t *testing.T) {
	provider := newFakeProvider(t)
	m, store := newTestManager(t)
	serverURL := provider.srv.URL + "/mcp"
	ctx := context.Background()

	require.NoError(t, store.SetRegistration(ctx, serverURL, &oauth.ClientRegistration{ClientID: "client-123"}))
	require.NoError(t, store.SetToken(ctx, serverURL, &oauth.Token{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))

	header, ok := m.Header(ctx, "github", serverURL)
	require.True(t, ok)
	assert.Equal(t, "Bearer tok-rotated", header)

	form := provider.lastTokenForm()
	require.NotNil(t, form)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "client-123", form.Get("client_id"))

	// The provider omitted the refresh token on rotation, so the old one
	// is carried over and persisted.
	stored, err := store.GetToken(serverURL)
	require.NoError(t, err)
	assert.Equal(t, "tok-rotated", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
}

func TestHeaderPersistsRotatedRefreshToken(t *testing.T) {
	provider := newFakeProvider(t)
	provider.rotatedRefresh = "refresh-2"
	m, store := newTestManager(t)
	serverURL := provider.srv.URL + "/mcp"
	ctx := context.Background()

	require.NoError(t, store.SetRegistration(ctx, serverURL, &oauth.ClientRegistration{ClientID: "client-123"}))
	require.NoError(t, store.SetToken(ctx, serverURL, &oauth.Token{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))

	_, ok := m.Header(ctx, "github", serverURL)
	require.True(t, ok)

	stored, err := store.GetToken(serverURL)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestHeaderKeepsStaleTokenWhenRefreshFails(t *testing.T) {
	provider := newFakeProvider(t)
	provider.refuseRefresh = true
	m, store := newTestManager(t)
	serverURL := provider.srv.URL + "/mcp"
	ctx := context.Background()

	require.NoError(t, store.SetRegistration(ctx, serverURL, &oauth.ClientRegistration{ClientID: "client-123"}))
	require.NoError(t, store.SetToken(ctx, serverURL, &oauth.Token{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))

	// The refresh fails but the current token is still inside its expiry,
	// so the connection gets to try it.
	header, ok := m.Header(ctx, "github", serverURL)
	require.True(t, ok)
	assert.Equal(t, "Bearer old", header)

	stored, err := store.GetToken(serverURL)
	require.NoError(t, err)
	assert.Equal(t, "old", stored.AccessToken)
}

func TestAuthorizationURLRegistersClient(t *testing.T) {
	provider := newFakeProvider(t)
	m, store := newTestManager(t)
	serverURL := provider.srv.URL + "/mcp"
	ctx := context.Background()

	authURL, err := m.AuthorizationURL(ctx, "github", serverURL, nil)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "client-123", query.Get("client_id"))
	assert.Equal(t, "http://localhost:37373/oauth/callback?server_name=github", query.Get("redirect_uri"))
	assert.Len(t, query.Get("state"), 43)
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))

	registration, err := store.GetRegistration(serverURL)
	require.NoError(t, err)
	require.NotNil(t, registration)
	assert.Equal(t, "client-123", registration.ClientID)

	// A second flow reuses the stored registration.
	_, err = m.AuthorizationURL(ctx, "github", serverURL, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.registrationCount())
}

func TestAuthorizationURLUsesChallengeIssuerAndScope(t *testing.T) {
	provider := newFakeProvider(t)
	m, _ := newTestManager(t)

	// The server lives elsewhere; only the challenge names the issuer.
	authURL, err := m.AuthorizationURL(context.Background(), "github", "https://api.example.com/mcp", &oauth.AuthChallenge{
		Scheme: "Bearer",
		Issuer: provider.srv.URL,
		Scope:  "mcp.read mcp.write",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "mcp.read mcp.write", parsed.Query().Get("scope"))

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.registrations, 1)
	assert.Equal(t, "mcp-hub", provider.registrations[0].ClientName)
	assert.Equal(t, "none", provider.registrations[0].TokenEndpointAuthMethod)
	assert.Equal(t, "mcp.read mcp.write", provider.registrations[0].Scope)
}

func TestAuthorizationURLRequiresRegistrationSupport(t *testing.T) {
	provider := newFakeProvider(t)
	provider.withRegistration = false
	m, _ := newTestManager(t)

	_, err := m.AuthorizationURL(context.Background(), "github", provider.srv.URL+"/mcp", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dynamic client registration")
}

func TestCompleteRedeemsFlow(t *testing.T) {
	provider := newFakeProvider(t)
	m, store := newTestManager(t)
	serverURL := provider.srv.URL + "/mcp"
	ctx := context.Background()

	authURL, err := m.AuthorizationURL(ctx, "github", serverURL, nil)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	server, err := m.Complete(ctx, "auth-code-1", state, "")
	require.NoError(t, err)
	assert.Equal(t, "github", server)

	form := provider.lastTokenForm()
	require.NotNil(t, form)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code-1", form.Get("code"))
	assert.Equal(t, "http://localhost:37373/oauth/callback?server_name=github", form.Get("redirect_uri"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	token, err := store.GetToken(serverURL)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-access", token.AccessToken)
	assert.Equal(t, "tok-refresh", token.RefreshToken)
	assert.False(t, token.ExpiresAt.IsZero())

	// The flow is consumed; replaying the callback fails.
	_, err = m.Complete(ctx, "auth-code-1", state, "")
	require.Error(t, err)
}

func TestCompleteUnknownState(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Complete(context.Background(), "code", "bogus-state", "")
	require.Error(t, err)
	assert.Equal(t, CodeAuthError, AsError(err).Code)
}

func TestCompleteFallsBackToServerName(t *testing.T) {
	provider := newFakeProvider(t)
	m, _ := newTestManager(t)

	_, err := m.AuthorizationURL(context.Background(), "github", provider.srv.URL+"/mcp", nil)
	require.NoError(t, err)

	// Some clients strip the state from the callback; the server_name
	// query parameter still identifies the flow.
	server, err := m.Complete(context.Background(), "auth-code-1", "", "github")
	require.NoError(t, err)
	assert.Equal(t, "github", server)
}

func TestCompleteRejectsServerMismatch(t *testing.T) {
	provider := newFakeProvider(t)
	m, _ := newTestManager(t)
	ctx := context.Background()

	authURL, err := m.AuthorizationURL(ctx, "github", provider.srv.URL+"/mcp", nil)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	_, err = m.Complete(ctx, "auth-code-1", state, "gitlab")
	require.Error(t, err)

	// The mismatch does not consume the flow.
	server, err := m.Complete(ctx, "auth-code-1", state, "github")
	require.NoError(t, err)
	assert.Equal(t, "github", server)
}

func TestCompleteExpiredFlow(t *testing.T) {
	m, _ := newTestManager(t)
	m.putFlow("stale-state", &pendingFlow{
		server:    "github",
		createdAt: time.Now().Add(-flowTTL - time.Minute),
	})

	_, err := m.Complete(context.Background(), "code", "stale-state", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending authorization flow")
}
