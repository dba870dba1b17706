// Package backend is the HTTP client for the brand-monitoring backend: token
// refresh, prompt fetching, result reporting and product discovery. It
// implements the TokenSource, PromptSource and Reporter collaborator
// interfaces consumed by the scan coordinator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/storage"
)

// AuthStore persists backend sessions across restarts. storage.Store is the
// production implementation.
type AuthStore interface {
	LoadAuth(ctx context.Context) (*storage.Auth, error)
	SaveAuth(ctx context.Context, a storage.Auth) error
	ClearAuth(ctx context.Context) error
}

// Config locates the backend.
type Config struct {
	// BaseURL is the backend root, e.g. https://project.supabase.co.
	BaseURL string
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client talks to the backend's extension endpoints.
type Client struct {
	cfg    Config
	http   *http.Client
	store  AuthStore
	logger logging.Logger

	// Serializes token refreshes so concurrent callers do not both burn the
	// single-use refresh token.
	refreshMu sync.Mutex
}

func NewClient(cfg Config, store AuthStore, logger logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("backend")
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		store:  store,
		logger: logger,
	}
}

// ─── Token lifecycle ───────────────────────────────────────────────────

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// EnsureValidToken returns a usable access token, refreshing and persisting
// it first when the stored one is expired or about to expire.
func (c *Client) EnsureValidToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	auth, err := c.store.LoadAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("load auth: %w", err)
	}
	if !auth.Expired(time.Now()) {
		return auth.AccessToken, nil
	}

	c.logger.Info("access token expired, refreshing")
	refreshed, err := c.refreshToken(ctx, auth.RefreshToken)
	if err != nil {
		// A dead refresh token means the whole session is gone.
		if clearErr := c.store.ClearAuth(ctx); clearErr != nil {
			c.logger.Warn("failed to clear stale auth",
				logging.Field{Key: "error", Value: clearErr.Error()})
		}
		return "", fmt.Errorf("refresh token: %w", err)
	}

	next := storage.Auth{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		UserID:       auth.UserID,
		UserEmail:    auth.UserEmail,
		ExpiresAt:    time.Now().Unix() + refreshed.ExpiresIn,
	}
	if err := c.store.SaveAuth(ctx, next); err != nil {
		c.logger.Warn("failed to persist refreshed auth",
			logging.Field{Key: "error", Value: err.Error()})
	}
	return refreshed.AccessToken, nil
}

func (c *Client) refreshToken(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	endpoint := c.cfg.BaseURL + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("refresh failed with status %d: %s", res.StatusCode, detail)
	}

	var out refreshResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	return &out, nil
}

// ─── Extension endpoints ───────────────────────────────────────────────

// FetchPrompts returns the product's prompt set and brand context.
func (c *Client) FetchPrompts(ctx context.Context, productID, token string) (*model.PromptsResponse, error) {
	endpoint := "/functions/v1/extension-prompts?productId=" + url.QueryEscape(productID)
	var out model.PromptsResponse
	if err := c.call(ctx, http.MethodGet, endpoint, token, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch prompts: %w", err)
	}
	return &out, nil
}

// SubmitResult posts one completed task to the backend.
func (c *Client) SubmitResult(ctx context.Context, token string, rec *model.ScanResultRecord) error {
	if err := c.call(ctx, http.MethodPost, "/functions/v1/extension-scan-results", token, rec, nil); err != nil {
		return fmt.Errorf("submit scan result: %w", err)
	}
	return nil
}

// FinalizeScan tells the backend the scan session is over so it can close
// out aggregates.
func (c *Client) FinalizeScan(ctx context.Context, token, scanSessionID, productID string) error {
	body := map[string]string{
		"scanSessionId": scanSessionID,
		"productId":     productID,
	}
	if err := c.call(ctx, http.MethodPost, "/functions/v1/extension-finalize-scan", token, body, nil); err != nil {
		return fmt.Errorf("finalize scan: %w", err)
	}
	return nil
}

type statusResponse struct {
	Products []struct {
		ID string `json:"id"`
	} `json:"products"`
}

// ProductIDs returns the ids of every product on the account. Auto-scan uses
// this to discover what to schedule.
func (c *Client) ProductIDs(ctx context.Context, token string) ([]string, error) {
	var out statusResponse
	if err := c.call(ctx, http.MethodGet, "/functions/v1/extension-status", token, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	ids := make([]string, 0, len(out.Products))
	for _, p := range out.Products {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("api error %d: %s", res.StatusCode, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
