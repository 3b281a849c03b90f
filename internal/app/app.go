package app

import (
	"context"
	"log/slog"

	"vidtube/internal/config"
	"vidtube/internal/objectstore"
	"vidtube/internal/services/auth"
	"vidtube/internal/services/media"
	"vidtube/internal/services/views"
	"vidtube/internal/storage/mongodb"
)

// App wires the store and object-store handles (constructed once, reused
// across requests) into the exposed services. Transport adapters living
// elsewhere call the service methods directly.
type App struct {
	Auth  *auth.Auth
	Media *media.Service
	Views *views.Service

	logger  *slog.Logger
	storage *mongodb.Storage
}

func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) *App {
	storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		panic(err)
	}

	objects, err := objectstore.New(cfg.Minio)
	if err != nil {
		panic(err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		panic(err)
	}

	authService := auth.New(
		logger,
		storage,
		storage,
		storage,
		storage,
		objects,
		cfg.Auth.AccessTTL,
		cfg.Auth.RefreshTTL,
		cfg.Auth.AccessSecret,
		cfg.Auth.RefreshSecret,
	)
	mediaService := media.New(logger, objects, storage)
	viewsService := views.New(logger, storage, storage)

	return &App{
		Auth:    authService,
		Media:   mediaService,
		Views:   viewsService,
		logger:  logger,
		storage: storage,
	}
}

// Stop releases the store handle.
func (a *App) Stop(ctx context.Context) {
	if err := a.storage.Close(ctx); err != nil {
		a.logger.Error("failed to close storage", slog.String("error", err.Error()))
	}
}
