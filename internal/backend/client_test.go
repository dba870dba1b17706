package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/storage"
)

// memAuthStore is an in-memory AuthStore.
type memAuthStore struct {
	mu   sync.Mutex
	auth *storage.Auth
}

func (m *memAuthStore) LoadAuth(context.Context) (*storage.Auth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auth == nil {
		return nil, storage.ErrNoAuth
	}
	cp := *m.auth
	return &cp, nil
}

func (m *memAuthStore) SaveAuth(_ context.Context, a storage.Auth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = &a
	return nil
}

func (m *memAuthStore) ClearAuth(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = nil
	return nil
}

func freshAuth() *storage.Auth {
	return &storage.Auth{
		AccessToken:  "valid-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
}

func staleAuth() *storage.Auth {
	return &storage.Auth{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}
}

func newTestClient(t *testing.T, handler http.Handler, auth *storage.Auth) (*Client, *memAuthStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := &memAuthStore{auth: auth}
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "anon-key"}, store, nil)
	return c, store
}

// ─── Token lifecycle ───────────────────────────────────────────────────

func TestEnsureValidToken_FreshTokenPassesThrough(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a fresh token")
	}), freshAuth())

	token, err := c.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "valid-token", token)
}

func TestEnsureValidToken_RefreshesAndPersists(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-token",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	c, store := newTestClient(t, handler, staleAuth())

	token, err := c.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)

	saved, err := store.LoadAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", saved.AccessToken)
	assert.Equal(t, "refresh-2", saved.RefreshToken)
	assert.False(t, saved.Expired(time.Now()))
}

func TestEnsureValidToken_FailedRefreshClearsAuth(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})
	c, store := newTestClient(t, handler, staleAuth())

	_, err := c.EnsureValidToken(context.Background())
	require.Error(t, err)

	_, err = store.LoadAuth(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoAuth)
}

func TestEnsureValidToken_NoStoredAuth(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.NewServeMux(), nil)
	_, err := c.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoAuth)
}

// ─── Extension endpoints ───────────────────────────────────────────────

func TestFetchPrompts(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/extension-prompts", r.URL.Path)
		assert.Equal(t, "prod-1", r.URL.Query().Get("productId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		json.NewEncoder(w).Encode(model.PromptsResponse{
			Product: model.ProductInfo{ID: "prod-1", Brand: "Acme", Domain: "acme.com"},
			Prompts: []model.Prompt{
				{ID: "p1", Text: "best crm?"},
				{ID: "p2", Text: "crm for the us?", TargetRegions: []string{"us"}},
			},
			Competitors: []string{"Globex"},
		})
	})
	c, _ := newTestClient(t, handler, freshAuth())

	pr, err := c.FetchPrompts(context.Background(), "prod-1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Acme", pr.Product.Brand)
	require.Len(t, pr.Prompts, 2)
	assert.Equal(t, []string{"us"}, pr.Prompts[1].TargetRegions)
	assert.Equal(t, []string{"Globex"}, pr.Competitors)
}

func TestSubmitResult(t *testing.T) {
	t.Parallel()
	var got model.ScanResultRecord
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/extension-scan-results", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t, handler, freshAuth())

	rec := &model.ScanResultRecord{
		ProductID:      "prod-1",
		ScanSessionID:  "sess-1",
		Platform:       "chatgpt",
		PromptID:       "p1",
		PromptText:     "best crm?",
		ResponseText:   "Acme is solid",
		BrandMentioned: true,
		RequestRegion:  "us",
	}
	require.NoError(t, c.SubmitResult(context.Background(), "tok", rec))
	assert.Equal(t, *rec, got)
}

func TestFinalizeScan(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/extension-finalize-scan", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["scanSessionId"])
		assert.Equal(t, "prod-1", body["productId"])
		w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t, handler, freshAuth())

	require.NoError(t, c.FinalizeScan(context.Background(), "tok", "sess-1", "prod-1"))
}

func TestProductIDs(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/extension-status", r.URL.Path)
		w.Write([]byte(`{"user":{"id":"u1","email":"u@example.com"},"products":[{"id":"prod-1"},{"id":"prod-2"}]}`))
	})
	c, _ := newTestClient(t, handler, freshAuth())

	ids, err := c.ProductIDs(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-1", "prod-2"}, ids)
}

func TestCall_SurfacesAPIErrors(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, handler, freshAuth())

	_, err := c.FetchPrompts(context.Background(), "prod-1", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
