package interfaces

import (
	"context"

	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// SessionHandle identifies one live automation session. Handles are created by
// a SessionProvider and addressed by their label everywhere else.
type SessionHandle interface {
	// Label returns the unique label the session was acquired under.
	Label() string

	// Platform returns the platform this session is bound to.
	Platform() platform.Platform
}

// SessionProvider provisions and tears down isolated automation sessions.
// Acquire and Release are the per-task pair; ForceClose is the emergency path
// used on scan cancellation for sessions nobody is actively driving.
// Release and ForceClose must be idempotent: closing an unknown or already
// closed label is a no-op.
type SessionProvider interface {
	// Acquire creates a session for the given platform, navigated to the
	// platform's entry URL. region selects the isolated credential store;
	// the sentinel "local" means the default (non geo-targeted) one.
	Acquire(ctx context.Context, label string, p platform.Platform, region string, visible bool) (SessionHandle, error)

	// Release tears down a session acquired earlier.
	Release(handle SessionHandle)

	// ForceClose tears down the session with the given label, if any.
	ForceClose(label string)

	// CloseAll tears down every session still open.
	CloseAll()
}

// PlatformDriver submits prompts into a session and later extracts the
// structured response. How the answer is pulled out of the page is opaque to
// the scan core.
type PlatformDriver interface {
	// Submit types the prompt into the session and sends it.
	Submit(ctx context.Context, handle SessionHandle, text string) error

	// Collect extracts the platform's answer from the session and scores it
	// against the brand context.
	Collect(ctx context.Context, handle SessionHandle, brand model.BrandContext) (*model.CollectResponse, error)
}
