// Package storage is the agent's local persistence: backend auth tokens,
// per-(region, platform) login marks, per-product auto-scan configuration and
// the browser profile directories that keep platform logins isolated.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNoAuth means no backend session has ever been saved.
var ErrNoAuth = errors.New("no stored auth")

// Auth is the persisted backend session. Tokens only, no user secrets.
type Auth struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	UserEmail    string `json:"user_email"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry, with a five
// minute buffer so a scan never starts on a token about to lapse.
func (a *Auth) Expired(now time.Time) bool {
	return now.Unix() >= a.ExpiresAt-300
}

// ProductConfig is the per-product auto-scan policy plus its daily
// bookkeeping.
type ProductConfig struct {
	ReadyPlatforms   []string `json:"ready_platforms"`
	SamplesPerPrompt int      `json:"samples_per_prompt"`
	AutoRunEnabled   bool     `json:"auto_run_enabled"`
	ScansPerDay      int      `json:"scans_per_day"`
	TimeWindowStart  int      `json:"time_window_start"`
	TimeWindowEnd    int      `json:"time_window_end"`
	LastAutoScanDate string   `json:"last_auto_scan_date,omitempty"`
	ScansToday       int      `json:"scans_today"`
	ScheduledTimes   []int    `json:"scheduled_times"`
}

// DefaultProductConfig mirrors the defaults applied to a product that was
// never configured.
func DefaultProductConfig() ProductConfig {
	return ProductConfig{
		SamplesPerPrompt: 1,
		AutoRunEnabled:   true,
		ScansPerDay:      1,
		TimeWindowStart:  9,
		TimeWindowEnd:    17,
	}
}

// RegionPlatformAuth is one (region, platform) login mark.
type RegionPlatformAuth struct {
	Region        string `json:"region"`
	Platform      string `json:"platform"`
	Authenticated bool   `json:"authenticated"`
	LastVerified  int64  `json:"last_verified,omitempty"`
	LastLogin     int64  `json:"last_login,omitempty"`
}

// Store is the sqlite-backed persistence layer. It implements
// interfaces.AuthStatus and session.DataDirs.
type Store struct {
	db     *sql.DB
	root   string
	logger logging.Logger
}

// Open opens (or creates) the store under root, applying schema and pragmas.
func Open(root string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewStdoutLogger("storage")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(root, "columbus.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("storage opened", logging.Field{Key: "root", Value: root})
	return &Store{db: db, root: root, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Auth tokens ───────────────────────────────────────────────────────

// SaveAuth replaces the stored backend session.
func (s *Store) SaveAuth(ctx context.Context, a Auth) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth (id, access_token, refresh_token, user_id, user_email, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id = excluded.user_id,
			user_email = excluded.user_email,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, a.AccessToken, a.RefreshToken, a.UserID, a.UserEmail, a.ExpiresAt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save auth: %w", err)
	}
	return nil
}

// LoadAuth returns the stored backend session, or ErrNoAuth.
func (s *Store) LoadAuth(ctx context.Context) (*Auth, error) {
	var a Auth
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, user_id, user_email, expires_at FROM auth WHERE id = 1
	`).Scan(&a.AccessToken, &a.RefreshToken, &a.UserID, &a.UserEmail, &a.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoAuth
	}
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	return &a, nil
}

// ClearAuth drops the stored backend session.
func (s *Store) ClearAuth(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth WHERE id = 1`); err != nil {
		return fmt.Errorf("clear auth: %w", err)
	}
	return nil
}

// ─── Region / platform auth marks ──────────────────────────────────────

// UpdateRegionPlatformAuth records whether a (region, platform) pair has a
// working login. Marking a pair unauthenticated keeps its last_login.
func (s *Store) UpdateRegionPlatformAuth(ctx context.Context, region string, p platform.Platform, authenticated bool) error {
	region = strings.ToLower(region)
	now := time.Now().Unix()

	var lastLogin any
	if authenticated {
		lastLogin = now
	} else {
		var prev sql.NullInt64
		err := s.db.QueryRowContext(ctx, `
			SELECT last_login FROM region_platform_auth WHERE region = ? AND platform = ?
		`, region, p.String()).Scan(&prev)
		if err == nil && prev.Valid {
			lastLogin = prev.Int64
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO region_platform_auth (region, platform, authenticated, last_verified, last_login)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(region, platform) DO UPDATE SET
			authenticated = excluded.authenticated,
			last_verified = excluded.last_verified,
			last_login = excluded.last_login
	`, region, p.String(), boolInt(authenticated), now, lastLogin)
	if err != nil {
		return fmt.Errorf("update region platform auth: %w", err)
	}
	return nil
}

// IsRegionPlatformAuthenticated reports whether the pair is marked as logged
// in. Unknown pairs are unauthenticated.
func (s *Store) IsRegionPlatformAuthenticated(region string, p platform.Platform) bool {
	var authenticated int
	err := s.db.QueryRow(`
		SELECT authenticated FROM region_platform_auth WHERE region = ? AND platform = ?
	`, strings.ToLower(region), p.String()).Scan(&authenticated)
	return err == nil && authenticated != 0
}

// AllRegionPlatformAuth returns every stored login mark.
func (s *Store) AllRegionPlatformAuth(ctx context.Context) ([]RegionPlatformAuth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT region, platform, authenticated, last_verified, last_login
		FROM region_platform_auth
		ORDER BY region, platform
	`)
	if err != nil {
		return nil, fmt.Errorf("query region platform auth: %w", err)
	}
	defer rows.Close()

	var out []RegionPlatformAuth
	for rows.Next() {
		var rec RegionPlatformAuth
		var authenticated int
		var verified, login sql.NullInt64
		if err := rows.Scan(&rec.Region, &rec.Platform, &authenticated, &verified, &login); err != nil {
			return nil, fmt.Errorf("scan region platform auth: %w", err)
		}
		rec.Authenticated = authenticated != 0
		if verified.Valid {
			rec.LastVerified = verified.Int64
		}
		if login.Valid {
			rec.LastLogin = login.Int64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AuthenticatedPlatforms returns the platforms with a working login in the
// region.
func (s *Store) AuthenticatedPlatforms(ctx context.Context, region string) ([]platform.Platform, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform FROM region_platform_auth
		WHERE region = ? AND authenticated = 1
		ORDER BY platform
	`, strings.ToLower(region))
	if err != nil {
		return nil, fmt.Errorf("query authenticated platforms: %w", err)
	}
	defer rows.Close()

	var out []platform.Platform
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		p, err := platform.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Product configs ───────────────────────────────────────────────────

// ProductConfigFor returns the stored config for the product, or the default
// when the product was never configured.
func (s *Store) ProductConfigFor(ctx context.Context, productID string) (ProductConfig, error) {
	cfg := DefaultProductConfig()
	var readyJSON, timesJSON string
	var lastDate sql.NullString
	var autoRun int
	err := s.db.QueryRowContext(ctx, `
		SELECT ready_platforms, samples_per_prompt, auto_run_enabled, scans_per_day,
		       time_window_start, time_window_end, last_auto_scan_date, scans_today, scheduled_times
		FROM product_configs WHERE product_id = ?
	`, productID).Scan(&readyJSON, &cfg.SamplesPerPrompt, &autoRun, &cfg.ScansPerDay,
		&cfg.TimeWindowStart, &cfg.TimeWindowEnd, &lastDate, &cfg.ScansToday, &timesJSON)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("load product config: %w", err)
	}

	cfg.AutoRunEnabled = autoRun != 0
	if lastDate.Valid {
		cfg.LastAutoScanDate = lastDate.String
	}
	if err := json.Unmarshal([]byte(readyJSON), &cfg.ReadyPlatforms); err != nil {
		s.logger.Warn("bad ready_platforms json", logging.Field{Key: "product_id", Value: productID})
	}
	if err := json.Unmarshal([]byte(timesJSON), &cfg.ScheduledTimes); err != nil {
		s.logger.Warn("bad scheduled_times json", logging.Field{Key: "product_id", Value: productID})
	}
	return cfg, nil
}

// SaveProductConfig replaces the product's config.
func (s *Store) SaveProductConfig(ctx context.Context, productID string, cfg ProductConfig) error {
	readyJSON, err := json.Marshal(cfg.ReadyPlatforms)
	if err != nil {
		return fmt.Errorf("marshal ready_platforms: %w", err)
	}
	timesJSON, err := json.Marshal(cfg.ScheduledTimes)
	if err != nil {
		return fmt.Errorf("marshal scheduled_times: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_configs
			(product_id, ready_platforms, samples_per_prompt, auto_run_enabled, scans_per_day,
			 time_window_start, time_window_end, last_auto_scan_date, scans_today, scheduled_times, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			ready_platforms = excluded.ready_platforms,
			samples_per_prompt = excluded.samples_per_prompt,
			auto_run_enabled = excluded.auto_run_enabled,
			scans_per_day = excluded.scans_per_day,
			time_window_start = excluded.time_window_start,
			time_window_end = excluded.time_window_end,
			last_auto_scan_date = excluded.last_auto_scan_date,
			scans_today = excluded.scans_today,
			scheduled_times = excluded.scheduled_times,
			updated_at = excluded.updated_at
	`, productID, string(readyJSON), cfg.SamplesPerPrompt, boolInt(cfg.AutoRunEnabled), cfg.ScansPerDay,
		cfg.TimeWindowStart, cfg.TimeWindowEnd, nullableString(cfg.LastAutoScanDate), cfg.ScansToday,
		string(timesJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save product config: %w", err)
	}
	return nil
}

// AllProductConfigs returns every stored product config keyed by product id.
func (s *Store) AllProductConfigs(ctx context.Context) (map[string]ProductConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id FROM product_configs`)
	if err != nil {
		return nil, fmt.Errorf("query product configs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]ProductConfig, len(ids))
	for _, id := range ids {
		cfg, err := s.ProductConfigFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = cfg
	}
	return out, nil
}

// ─── Browser profile directories ───────────────────────────────────────

// SessionDataDir returns (creating if needed) the browser profile directory
// for a (region, platform) pair, so logins persist between scans.
func (s *Store) SessionDataDir(region string, p platform.Platform) (string, error) {
	dir := filepath.Join(s.root, "webview-data", strings.ToLower(region), p.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session data dir: %w", err)
	}
	return dir, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
