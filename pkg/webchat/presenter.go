package webchat

import (
	"context"

	"github.com/rs/zerolog"
)

// Presenter makes a session's web chat visible to the user, e.g. by opening
// its window. Show may return before the web chat attaches.
type Presenter interface {
	Show(ctx context.Context, sessionKey string) error
}

// LogPresenter is the headless default: it only records the request.
type LogPresenter struct {
	Log zerolog.Logger
}

func (p LogPresenter) Show(_ context.Context, sessionKey string) error {
	p.Log.Debug().Str("session_key", sessionKey).Msg("Web chat presentation requested")
	return nil
}
