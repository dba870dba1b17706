package server

import "github.com/avistalabs/columbus/internal/logging"

// Config carries the HTTP surface settings. Everything stateful comes in
// through Deps instead.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. "127.0.0.1:8717".
	ListenAddr string

	Logger logging.Logger
}
