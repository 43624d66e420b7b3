// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/events"
	"github.com/jackzampolin/narrator/internal/health"
	"github.com/jackzampolin/narrator/internal/library"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/tts"
	"github.com/jackzampolin/narrator/internal/worker"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store     *store.Store
	Settings  *store.Settings
	Bus       *events.Bus
	Health    *health.State
	Library   library.Reader
	Writer    *output.Writer
	TTS       *tts.Client
	Worker    *worker.Worker
	ConfigMgr *config.Manager
	Logger    *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the job store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// SettingsFrom extracts the runtime settings store from context.
func SettingsFrom(ctx context.Context) *store.Settings {
	if s := ServicesFrom(ctx); s != nil {
		return s.Settings
	}
	return nil
}

// BusFrom extracts the event bus from context.
func BusFrom(ctx context.Context) *events.Bus {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bus
	}
	return nil
}

// HealthFrom extracts the health state from context.
func HealthFrom(ctx context.Context) *health.State {
	if s := ServicesFrom(ctx); s != nil {
		return s.Health
	}
	return nil
}

// LibraryFrom extracts the library reader from context.
func LibraryFrom(ctx context.Context) library.Reader {
	if s := ServicesFrom(ctx); s != nil {
		return s.Library
	}
	return nil
}

// WriterFrom extracts the audiobook output writer from context.
func WriterFrom(ctx context.Context) *output.Writer {
	if s := ServicesFrom(ctx); s != nil {
		return s.Writer
	}
	return nil
}

// TTSFrom extracts the TTS client from context.
func TTSFrom(ctx context.Context) *tts.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.TTS
	}
	return nil
}

// WorkerFrom extracts the conversion worker from context.
func WorkerFrom(ctx context.Context) *worker.Worker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Worker
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
