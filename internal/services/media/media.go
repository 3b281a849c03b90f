package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vidtube/internal/domain/models"
	"vidtube/internal/lib/sl"
	"vidtube/internal/storage"
)

// Slot names a profile-image field subject to the replacement protocol.
type Slot string

const (
	SlotAvatar     Slot = "avatar"
	SlotCoverImage Slot = "coverImage"
)

var (
	ErrMissingAsset = errors.New("required asset file is missing")
	ErrUploadFailed = errors.New("asset upload failed")
	ErrUnknownSlot  = errors.New("unknown asset slot")
	ErrUserNotFound = errors.New("user not found")
)

type ObjectStore interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
	Delete(ctx context.Context, assetURL string) error
}

// AssetStore swaps an account's asset reference in a single atomic update,
// returning the reference it displaced.
type AssetStore interface {
	SwapAssetRef(ctx context.Context, userID, slot, url string) (prev string, err error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
}

// Service implements the asset replacement protocol: upload the new object,
// swap the account's reference, then best-effort delete the old object. The
// ordering guarantees the account always points at a reachable asset; an
// orphaned old object is the accepted failure mode, a lost new one is not.
type Service struct {
	logger  *slog.Logger
	objects ObjectStore
	assets  AssetStore
}

func New(logger *slog.Logger, objects ObjectStore, assets AssetStore) *Service {
	return &Service{
		logger:  logger,
		objects: objects,
		assets:  assets,
	}
}

// Replace uploads the file at localPath into the given slot and returns the
// new URL. For the avatar slot a missing file is an error before any upload
// attempt; for the cover image it is a no-op that returns the current
// reference unchanged.
func (s *Service) Replace(ctx context.Context, userID string, slot Slot, localPath string) (string, error) {
	const op = "media.Replace"
	log := s.logger.With(
		slog.String("op", op),
		slog.String("userID", userID),
		slog.String("slot", string(slot)),
	)

	switch slot {
	case SlotAvatar, SlotCoverImage:
	default:
		return "", fmt.Errorf("%s: %w: %q", op, ErrUnknownSlot, slot)
	}

	if localPath == "" {
		if slot == SlotAvatar {
			return "", fmt.Errorf("%s: %w", op, ErrMissingAsset)
		}
		return s.currentRef(ctx, op, userID)
	}

	newURL, err := s.objects.Upload(ctx, localPath)
	if err != nil {
		log.Error("upload failed", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, ErrUploadFailed)
	}
	if newURL == "" {
		// Upload reported success but produced no usable reference; the
		// uploaded object is left to store-side garbage collection and must
		// not reach the account record.
		log.Error("upload returned empty url")
		return "", fmt.Errorf("%s: %w", op, ErrUploadFailed)
	}

	prev, err := s.assets.SwapAssetRef(ctx, userID, string(slot), newURL)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to swap asset reference", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	// The account already points at the new asset; a failed delete only
	// orphans the old object, so it is logged and swallowed.
	if prev != "" {
		if err := s.objects.Delete(ctx, prev); err != nil {
			log.Warn("failed to delete previous asset",
				slog.String("asset", prev), sl.Err(err))
		}
	}

	log.Info("asset replaced", slog.String("url", newURL))

	return newURL, nil
}

func (s *Service) currentRef(ctx context.Context, op, userID string) (string, error) {
	user, err := s.assets.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return user.CoverImage, nil
}
