package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vidtube/internal/domain/models"
	"vidtube/internal/lib/jwt"
	"vidtube/internal/lib/sl"
	"vidtube/internal/storage"
)

// Auth owns the account and session lifecycle: registration, login, the
// access/refresh token pair, rotation with reuse detection, and revocation.
type Auth struct {
	logger        *slog.Logger
	userSaver     UserSaver
	userProvider  UserProvider
	sessions      SessionStore
	accounts      AccountUpdater
	uploader      AssetUploader
	accessTTL     time.Duration
	refreshTTL    time.Duration
	accessSecret  string
	refreshSecret string
}

type UserSaver interface {
	SaveUser(ctx context.Context, user *models.User) (id string, err error)
}

type UserProvider interface {
	UserByLogin(ctx context.Context, login string) (*models.User, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
}

// SessionStore persists the single live refresh token per account. Every
// method is one atomic document update.
type SessionStore interface {
	SetRefreshToken(ctx context.Context, userID, token string) error
	SwapRefreshToken(ctx context.Context, userID, old, new string) error
	ClearRefreshToken(ctx context.Context, userID string) error
}

type AccountUpdater interface {
	UpdatePassword(ctx context.Context, userID string, passHash []byte) error
	UpdateDetails(ctx context.Context, userID, fullName, email string) (*models.User, error)
}

type AssetUploader interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRefreshReuse       = errors.New("refresh token already used or superseded")
	ErrMissingAvatar      = errors.New("avatar file is required")
	ErrAssetUpload        = errors.New("asset upload failed")
)

// RegisterInput carries the registration fields plus the staged upload paths.
// Avatar is mandatory, cover image optional.
type RegisterInput struct {
	FullName        string
	Email           string
	Username        string
	Password        string
	AvatarPath      string
	CoverImagePath  string
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessions SessionStore,
	accounts AccountUpdater,
	uploader AssetUploader,
	accessTTL time.Duration,
	refreshTTL time.Duration,
	accessSecret string,
	refreshSecret string,
) *Auth {
	return &Auth{
		logger:        logger,
		userSaver:     userSaver,
		userProvider:  userProvider,
		sessions:      sessions,
		accounts:      accounts,
		uploader:      uploader,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
	}
}

// Register creates an account. The avatar upload happens before the insert so
// that a failed upload never produces an account without its mandatory asset.
func (a *Auth) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	const op = "auth.Register"
	log := a.logger.With(slog.String("op", op), slog.String("username", in.Username))
	log.Info("register request")

	for _, field := range []string{in.FullName, in.Email, in.Username, in.Password} {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidInput)
		}
	}
	if in.AvatarPath == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAvatar)
	}

	avatarURL, err := a.uploader.Upload(ctx, in.AvatarPath)
	if err != nil || avatarURL == "" {
		if err != nil {
			log.Error("avatar upload failed", sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, ErrAssetUpload)
	}

	var coverURL string
	if in.CoverImagePath != "" {
		coverURL, err = a.uploader.Upload(ctx, in.CoverImagePath)
		if err != nil {
			log.Error("cover image upload failed", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrAssetUpload)
		}
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		Username:   strings.ToLower(in.Username),
		Email:      strings.ToLower(in.Email),
		FullName:   in.FullName,
		Avatar:     avatarURL,
		CoverImage: coverURL,
		PassHash:   passHash,
	}

	userID, err := a.userSaver.SaveUser(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		log.Error("failed to load created user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("userID", userID))

	public := created.Public()
	return &public, nil
}

// Login authenticates by username or email and issues a fresh token pair.
func (a *Auth) Login(ctx context.Context, login, password string) (*models.User, string, string, error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("login", login))

	if strings.TrimSpace(login) == "" || password == "" {
		return nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	user, err := a.userProvider.UserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, "", "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Warn("invalid password", sl.Err(err))
		return nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	accessToken, refreshToken, err := a.IssueTokens(ctx, user.ID)
	if err != nil {
		return nil, "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("userID", user.ID))

	public := user.Public()
	return &public, accessToken, refreshToken, nil
}

// IssueTokens produces a signed access/refresh pair and persists the refresh
// token onto the account record, overwriting any prior session. Any failure
// is fatal to the in-progress login: no partial pair is returned.
func (a *Auth) IssueTokens(ctx context.Context, userID string) (string, string, error) {
	const op = "auth.IssueTokens"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		log.Error("failed to load user", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	accessToken, err := jwt.NewAccessToken(user, a.accessSecret, a.accessTTL)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := jwt.NewRefreshToken(user, a.refreshSecret, a.refreshTTL)
	if err != nil {
		log.Error("failed to sign refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.SetRefreshToken(ctx, user.ID, refreshToken); err != nil {
		log.Error("failed to persist refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	return accessToken, refreshToken, nil
}

// ValidateAccess verifies an access token by signature and expiry alone and
// resolves the acting account. It performs no writes.
func (a *Auth) ValidateAccess(ctx context.Context, token string) (string, error) {
	const op = "auth.ValidateAccess"
	log := a.logger.With(slog.String("op", op))

	if token == "" {
		return "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims, err := jwt.ParseToken(token, a.accessSecret)
	if err != nil {
		log.Warn("invalid access token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	userID, err := jwt.UserID(claims)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	if _, err := a.userProvider.UserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token references missing account", slog.String("userID", userID))
			return "", fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to resolve account", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return userID, nil
}

// Rotate exchanges a presented refresh token for a new pair. The stored token
// must still equal the presented one; a signature-valid token that fails the
// equality check has been consumed or superseded and is rejected as reuse.
func (a *Auth) Rotate(ctx context.Context, presented string) (string, string, error) {
	const op = "auth.Rotate"
	log := a.logger.With(slog.String("op", op))
	log.Info("rotate request")

	if presented == "" {
		return "", "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims, err := jwt.ParseToken(presented, a.refreshSecret)
	if err != nil {
		log.Warn("invalid refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	userID, err := jwt.UserID(claims)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token references missing account")
			return "", "", fmt.Errorf("%s: %w", op, ErrUnauthenticated)
		}
		log.Error("failed to resolve account", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	accessToken, err := jwt.NewAccessToken(user, a.accessSecret, a.accessTTL)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := jwt.NewRefreshToken(user, a.refreshSecret, a.refreshTTL)
	if err != nil {
		log.Error("failed to sign refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	// The equality check and the persist are one compare-and-swap: of two
	// concurrent rotations with the same token at most one lands, and the
	// loser sees the mismatch.
	if err := a.sessions.SwapRefreshToken(ctx, user.ID, presented, refreshToken); err != nil {
		if errors.Is(err, storage.ErrTokenMismatch) {
			log.Warn("refresh token reuse detected", slog.String("userID", user.ID))
			return "", "", fmt.Errorf("%s: %w", op, ErrRefreshReuse)
		}
		log.Error("failed to rotate refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens rotated", slog.String("userID", user.ID))

	return accessToken, refreshToken, nil
}

// Revoke clears the stored refresh token. Revoking an already-revoked
// session succeeds silently; this is the logout primitive.
func (a *Auth) Revoke(ctx context.Context, userID string) error {
	const op = "auth.Revoke"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	if err := a.sessions.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to clear refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("session revoked")

	return nil
}

// ChangePassword verifies the current password and atomically swaps the hash.
func (a *Auth) ChangePassword(ctx context.Context, userID, current, next string) error {
	const op = "auth.ChangePassword"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	if current == "" || next == "" || current == next {
		return fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to load user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(current)); err != nil {
		log.Warn("invalid current password")
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.accounts.UpdatePassword(ctx, userID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed")

	return nil
}

// UpdateDetails atomically sets the display name and email.
func (a *Auth) UpdateDetails(ctx context.Context, userID, fullName, email string) (*models.User, error) {
	const op = "auth.UpdateDetails"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	if strings.TrimSpace(fullName) == "" || strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	user, err := a.accounts.UpdateDetails(ctx, userID, fullName, email)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		case errors.Is(err, storage.ErrUserExists):
			log.Warn("email already taken")
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		log.Error("failed to update details", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account details updated")

	public := user.Public()
	return &public, nil
}

// CurrentUser returns the public projection of the acting account.
func (a *Auth) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "auth.CurrentUser"

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	public := user.Public()
	return &public, nil
}
