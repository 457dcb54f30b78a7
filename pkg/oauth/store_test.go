package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "oauth-storage.json"))
}

func TestFileStoreTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token returns nil without error", func(t *testing.T) {
		store := newTestStore(t)

		token, err := store.GetToken("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if token != nil {
			t.Errorf("expected nil token, got %+v", token)
		}
	})

	t.Run("set and get round-trips", func(t *testing.T) {
		store := newTestStore(t)
		token := &Token{
			AccessToken:  "access-123",
			TokenType:    "Bearer",
			RefreshToken: "refresh-456",
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
			Scope:        "mcp profile",
		}

		if err := store.SetToken(ctx, "https://mcp.example.com", token); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}

		got, err := store.GetToken("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected stored token")
		}
		if got.AccessToken != token.AccessToken {
			t.Errorf("expected access token %q, got %q", token.AccessToken, got.AccessToken)
		}
		if got.RefreshToken != token.RefreshToken {
			t.Errorf("expected refresh token %q, got %q", token.RefreshToken, got.RefreshToken)
		}
		if !got.ExpiresAt.Equal(token.ExpiresAt) {
			t.Errorf("expected expiry %v, got %v", token.ExpiresAt, got.ExpiresAt)
		}
	})

	t.Run("endpoint path variants share one entry", func(t *testing.T) {
		store := newTestStore(t)
		token := &Token{AccessToken: "shared"}

		if err := store.SetToken(ctx, "https://mcp.example.com/mcp", token); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}

		for _, url := range []string{
			"https://mcp.example.com",
			"https://mcp.example.com/",
			"https://mcp.example.com/sse",
		} {
			got, err := store.GetToken(url)
			if err != nil {
				t.Fatalf("GetToken(%s) failed: %v", url, err)
			}
			if got == nil || got.AccessToken != "shared" {
				t.Errorf("expected shared token for %s, got %+v", url, got)
			}
		}
	})

	t.Run("returned token is a copy", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetToken(ctx, "https://mcp.example.com", &Token{AccessToken: "original"}); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}

		got, _ := store.GetToken("https://mcp.example.com")
		got.AccessToken = "mutated"

		again, _ := store.GetToken("https://mcp.example.com")
		if again.AccessToken != "original" {
			t.Errorf("mutation of returned token leaked into store: %q", again.AccessToken)
		}
	})

	t.Run("delete removes the token", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetToken(ctx, "https://mcp.example.com", &Token{AccessToken: "x"}); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}

		if err := store.DeleteToken(ctx, "https://mcp.example.com"); err != nil {
			t.Fatalf("DeleteToken failed: %v", err)
		}

		got, err := store.GetToken("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected token gone, got %+v", got)
		}
	})

	t.Run("delete of absent token is not an error", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.DeleteToken(ctx, "https://never-stored.example.com"); err != nil {
			t.Errorf("DeleteToken failed: %v", err)
		}
	})

	t.Run("nil token is rejected", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetToken(ctx, "https://mcp.example.com", nil); err == nil {
			t.Error("expected error storing nil token")
		}
	})
}

func TestFileStoreRegistrations(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get round-trips", func(t *testing.T) {
		store := newTestStore(t)
		reg := &ClientRegistration{
			ClientID:     "client-abc",
			ClientName:   "mcp-hub",
			RedirectURIs: []string{"http://localhost:7300/oauth/callback"},
		}

		if err := store.SetRegistration(ctx, "https://mcp.example.com/mcp", reg); err != nil {
			t.Fatalf("SetRegistration failed: %v", err)
		}

		got, err := store.GetRegistration("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetRegistration failed: %v", err)
		}
		if got == nil || got.ClientID != "client-abc" {
			t.Fatalf("expected stored registration, got %+v", got)
		}
		if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != reg.RedirectURIs[0] {
			t.Errorf("expected redirect URIs %v, got %v", reg.RedirectURIs, got.RedirectURIs)
		}
	})

	t.Run("missing registration returns nil without error", func(t *testing.T) {
		store := newTestStore(t)

		got, err := store.GetRegistration("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetRegistration failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil registration, got %+v", got)
		}
	})

	t.Run("registrations and tokens are independent keys", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetRegistration(ctx, "https://mcp.example.com", &ClientRegistration{ClientID: "c"}); err != nil {
			t.Fatalf("SetRegistration failed: %v", err)
		}

		token, err := store.GetToken("https://mcp.example.com")
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if token != nil {
			t.Errorf("registration write must not create a token, got %+v", token)
		}
	})
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetToken(ctx, "https://a.example.com", &Token{AccessToken: "a"}); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if err := store.SetRegistration(ctx, "https://a.example.com", &ClientRegistration{ClientID: "ca"}); err != nil {
		t.Fatalf("SetRegistration failed: %v", err)
	}
	if err := store.SetToken(ctx, "https://b.example.com", &Token{AccessToken: "b"}); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	if err := store.Clear(ctx, "https://a.example.com"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if token, _ := store.GetToken("https://a.example.com"); token != nil {
		t.Errorf("expected token cleared, got %+v", token)
	}
	if reg, _ := store.GetRegistration("https://a.example.com"); reg != nil {
		t.Errorf("expected registration cleared, got %+v", reg)
	}
	if token, _ := store.GetToken("https://b.example.com"); token == nil || token.AccessToken != "b" {
		t.Errorf("other server's token must survive, got %+v", token)
	}
}

func TestFileStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "oauth-storage.json")

	first := NewFileStore(path)
	if err := first.SetToken(ctx, "https://mcp.example.com", &Token{AccessToken: "persisted"}); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	// A fresh handle on the same path sees the write.
	second := NewFileStore(path)
	got, err := second.GetToken("https://mcp.example.com")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got == nil || got.AccessToken != "persisted" {
		t.Fatalf("expected persisted token, got %+v", got)
	}
}

func TestFileStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	store := newTestStore(t)
	if err := store.SetToken(context.Background(), "https://mcp.example.com", &Token{AccessToken: "secret"}); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected mode 0600, got %04o", perm)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "oauth-storage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	store := NewFileStore(path)

	if _, err := store.GetToken("https://mcp.example.com"); err == nil {
		t.Error("expected read error for corrupt store")
	}

	// Writes rebuild the store instead of failing.
	if err := store.SetToken(ctx, "https://mcp.example.com", &Token{AccessToken: "fresh"}); err != nil {
		t.Fatalf("SetToken failed on corrupt store: %v", err)
	}
	got, err := store.GetToken("https://mcp.example.com")
	if err != nil {
		t.Fatalf("GetToken failed after rebuild: %v", err)
	}
	if got == nil || got.AccessToken != "fresh" {
		t.Fatalf("expected rebuilt store to hold token, got %+v", got)
	}
}

func TestRegister(t *testing.T) {
	t.Run("registers client", func(t *testing.T) {
		var received RegistrationRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("failed to decode registration request: %v", err)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(&ClientRegistration{
				ClientID:     "issued-client",
				ClientName:   received.ClientName,
				RedirectURIs: received.RedirectURIs,
			})
		}))
		defer server.Close()

		c := NewClient()
		reg, err := c.Register(context.Background(), server.URL+"/register", &RegistrationRequest{
			RedirectURIs: []string{"http://localhost:7300/oauth/callback"},
			ClientName:   "mcp-hub",
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if reg.ClientID != "issued-client" {
			t.Errorf("expected issued client_id, got %q", reg.ClientID)
		}
		if received.ClientName != "mcp-hub" {
			t.Errorf("expected client_name sent, got %q", received.ClientName)
		}
	})

	t.Run("accepts 200 responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(&ClientRegistration{ClientID: "ok"})
		}))
		defer server.Close()

		c := NewClient()
		reg, err := c.Register(context.Background(), server.URL, &RegistrationRequest{
			RedirectURIs: []string{"http://localhost:7300/oauth/callback"},
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if reg.ClientID != "ok" {
			t.Errorf("expected client_id ok, got %q", reg.ClientID)
		}
	})

	t.Run("rejects error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_redirect_uri"}`, http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient()
		if _, err := c.Register(context.Background(), server.URL, &RegistrationRequest{}); err == nil {
			t.Error("expected error for 400 response")
		}
	})

	t.Run("rejects response without client_id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient()
		if _, err := c.Register(context.Background(), server.URL, &RegistrationRequest{}); err == nil {
			t.Error("expected error for response without client_id")
		}
	})
}
