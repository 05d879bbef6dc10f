package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/registry"
	"github.com/leapstack-labs/leaplineage/internal/state"
)

// Open wires an engine from configuration: the asset catalog over the
// configured sources, the selected graph store, and the signer.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	catalog := registry.OpenCatalog(ctx, cfg.Sources, logger.With(slog.String("component", "registry")))

	store, err := state.Open(ctx, state.Config{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		DSN:      cfg.Store.DSN,
		URI:      cfg.Store.URI,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
		Database: cfg.Store.Database,
	}, logger.With(slog.String("component", "state")))
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	e, err := New(Config{
		Registry:     catalog,
		Store:        store,
		Signer:       provenance.NewSigner(cfg.Signing.Secret),
		Inference:    cfg.Inference,
		RequiredRole: cfg.Curation.RequiredRole,
		Logger:       logger,
	})
	if err != nil {
		_ = store.Close()
		_ = catalog.Close()
		return nil, err
	}
	return e, nil
}

// sourceLister is implemented by registries that report source status.
type sourceLister interface {
	Sources() []registry.SourceInfo
}

// Sources describes the configured asset sources, if the registry tracks them.
func (e *Engine) Sources() []registry.SourceInfo {
	if l, ok := e.registry.(sourceLister); ok {
		return l.Sources()
	}
	return nil
}

// Watch hot-reloads watched file sources until ctx is cancelled, calling
// onChange after each reload. It returns immediately when the registry does
// not support watching.
func (e *Engine) Watch(ctx context.Context, onChange func(sourceID string)) error {
	catalog, ok := e.registry.(*registry.Catalog)
	if !ok {
		return nil
	}
	return catalog.Watch(ctx, func(sourceID string) {
		e.logger.Info("source reloaded", slog.String("source", sourceID))
		if onChange != nil {
			onChange(sourceID)
		}
	})
}

// Close closes the store and, when it holds resources, the registry.
func (e *Engine) Close() error {
	err := e.store.Close()
	if c, ok := e.registry.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
