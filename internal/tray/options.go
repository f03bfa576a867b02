package tray

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/cache"
	"github.com/tnunamak/clawtray/internal/poller"
)

var ErrUnavailable = errors.New("tray mode not available in this build; rebuild with: go build -tags tray ./cmd/clawtray")

type Options struct {
	Controller *poller.Controller
	Feed       *Feed
	// Logout removes the stored credential after the controller has
	// forgotten it.
	Logout  func() error
	Cache   *cache.Cache
	Logger  zerolog.Logger
	Version string
}
