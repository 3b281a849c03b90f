package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vidtube/internal/domain/models"
	"vidtube/internal/lib/sl"
	"vidtube/internal/storage"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// ViewProvider is the aggregation surface of the account store. Every method
// is a single multi-stage pipeline: the derived fields of one view always
// come from one consistent snapshot.
type ViewProvider interface {
	ChannelProfile(ctx context.Context, viewerID, username string) (*models.ChannelProfile, error)
	WatchHistory(ctx context.Context, userID string) ([]models.WatchEntry, error)
	ListVideos(ctx context.Context, ownerID, sortField string, descending bool, page, limit int64) ([]models.VideoListing, error)
}

type UserProvider interface {
	UserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Service computes the read-only social-graph views. It never mutates state;
// repeated calls over unchanged data return identical results.
type Service struct {
	logger *slog.Logger
	views  ViewProvider
	users  UserProvider
}

func New(logger *slog.Logger, views ViewProvider, users UserProvider) *Service {
	return &Service{
		logger: logger,
		views:  views,
		users:  users,
	}
}

// ChannelProfile resolves the channel by case-folded username and returns its
// public projection with subscriber counts and the viewer's subscription flag.
func (s *Service) ChannelProfile(ctx context.Context, viewerID, username string) (*models.ChannelProfile, error) {
	const op = "views.ChannelProfile"
	log := s.logger.With(slog.String("op", op), slog.String("username", username))

	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	profile, err := s.views.ChannelProfile(ctx, viewerID, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("channel does not exist")
			return nil, fmt.Errorf("%s: %w", op, ErrChannelNotFound)
		}
		log.Error("failed to aggregate channel profile", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return profile, nil
}

// WatchHistory returns the account's history entries, each joined with the
// owning account's public fields, in stored order.
func (s *Service) WatchHistory(ctx context.Context, userID string) ([]models.WatchEntry, error) {
	const op = "views.WatchHistory"
	log := s.logger.With(slog.String("op", op), slog.String("userID", userID))

	entries, err := s.views.WatchHistory(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrChannelNotFound)
		}
		log.Error("failed to aggregate watch history", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

// VideoQuery narrows and orders the video catalog view.
type VideoQuery struct {
	Username string
	SortBy   string
	SortDesc bool
	Page     int64
	Limit    int64
}

// sortFields maps caller-facing sort names to stored field names.
var sortFields = map[string]string{
	"createdAt": "created_at",
	"views":     "views",
	"duration":  "duration",
	"title":     "title",
}

// ListVideos returns the catalog joined with owner public fields, optionally
// narrowed to one channel's uploads.
func (s *Service) ListVideos(ctx context.Context, q VideoQuery) ([]models.VideoListing, error) {
	const op = "views.ListVideos"
	log := s.logger.With(slog.String("op", op))

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}

	sortField, ok := sortFields[q.SortBy]
	if !ok {
		sortField = "created_at"
	}

	var ownerID string
	if q.Username != "" {
		owner, err := s.users.UserByUsername(ctx, q.Username)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				log.Warn("owner filter names missing user", slog.String("username", q.Username))
				return nil, fmt.Errorf("%s: %w", op, ErrChannelNotFound)
			}
			log.Error("failed to resolve owner", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ownerID = owner.ID
	}

	listings, err := s.views.ListVideos(ctx, ownerID, sortField, q.SortDesc, q.Page, q.Limit)
	if err != nil {
		log.Error("failed to aggregate videos", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return listings, nil
}
