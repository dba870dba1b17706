package interfaces

import (
	"context"

	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// TokenSource yields a currently-valid access token, refreshing a stale one
// if needed.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// PromptSource fetches the prompt set and brand context for a product.
type PromptSource interface {
	FetchPrompts(ctx context.Context, productID, token string) (*model.PromptsResponse, error)
}

// Reporter delivers scan output to the backend. Both calls are best-effort
// from the scan core's perspective: failures are logged by the caller and
// never abort a scan.
type Reporter interface {
	SubmitResult(ctx context.Context, token string, rec *model.ScanResultRecord) error
	FinalizeScan(ctx context.Context, token, scanSessionID, productID string) error
}

// AuthStatus answers whether a (region, platform) pair has a stored
// authenticated session. Synchronous local lookup, no I/O beyond local state.
type AuthStatus interface {
	IsRegionPlatformAuthenticated(region string, p platform.Platform) bool
}
