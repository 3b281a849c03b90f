package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube/internal/domain/models"
	"vidtube/internal/storage"
)

const (
	accessSecret  = "access-secret"
	refreshSecret = "refresh-secret"
)

// fakeStore is an in-memory account store with the same atomicity contract as
// the mongodb one: the refresh-token swap is a compare-and-swap under a lock.
type fakeStore struct {
	mu     sync.Mutex
	nextID int
	users  map[string]*models.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*models.User)}
}

func (f *fakeStore) SaveUser(_ context.Context, user *models.User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return "", storage.ErrUserExists
		}
	}

	f.nextID++
	id := fmt.Sprintf("user-%d", f.nextID)
	stored := *user
	stored.ID = id
	stored.CreatedAt = time.Now()
	f.users[id] = &stored
	return id, nil
}

func (f *fakeStore) UserByLogin(_ context.Context, login string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	login = strings.ToLower(login)
	for _, u := range f.users {
		if u.Username == login || u.Email == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeStore) UserByID(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SetRefreshToken(_ context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.RefreshToken = token
	return nil
}

func (f *fakeStore) SwapRefreshToken(_ context.Context, userID, old, new string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if u.RefreshToken != old {
		return storage.ErrTokenMismatch
	}
	u.RefreshToken = new
	return nil
}

func (f *fakeStore) ClearRefreshToken(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.RefreshToken = ""
	return nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, userID string, passHash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.PassHash = passHash
	return nil
}

func (f *fakeStore) UpdateDetails(_ context.Context, userID, fullName, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	email = strings.ToLower(email)
	for id, other := range f.users {
		if id != userID && other.Email == email {
			return nil, storage.ErrUserExists
		}
	}
	u.FullName = fullName
	u.Email = email
	cp := *u
	return &cp, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	fail    bool
	counter int
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return "", errors.New("object store unavailable")
	}
	f.counter++
	return fmt.Sprintf("https://assets.test/%d-%s", f.counter, localPath), nil
}

func newTestAuth(t *testing.T, store *fakeStore, uploader *fakeUploader) *Auth {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, store, store, store, store, uploader,
		time.Hour, 24*time.Hour, accessSecret, refreshSecret)
}

func registerInput() RegisterInput {
	return RegisterInput{
		FullName:   gofakeit.Name(),
		Email:      gofakeit.Email(),
		Username:   gofakeit.Username(),
		Password:   gofakeit.Password(true, true, true, true, false, 12),
		AvatarPath: "avatar.png",
	}
}

func TestRegisterAndLoginIssuesValidAccess(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	user, err := a.Register(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	assert.Equal(t, strings.ToLower(in.Username), user.Username)
	assert.NotEmpty(t, user.Avatar)
	assert.Nil(t, user.PassHash)
	assert.Empty(t, user.RefreshToken)

	logged, access, refresh, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.Equal(t, user.ID, logged.ID)

	resolved, err := a.ValidateAccess(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved)
}

func TestLoginByEmail(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, _, _, err = a.Login(ctx, strings.ToUpper(in.Email), in.Password)
	require.NoError(t, err)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, _, _, err = a.Login(ctx, in.Username, "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateUsernameCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	dup := registerInput()
	dup.Username = strings.ToUpper(in.Username)
	_, err = a.Register(ctx, dup)
	require.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterWithoutAvatar(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(t, store, &fakeUploader{})

	in := registerInput()
	in.AvatarPath = ""
	_, err := a.Register(ctx, in)
	require.ErrorIs(t, err, ErrMissingAvatar)
	assert.Empty(t, store.users)
}

func TestRegisterUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(t, store, &fakeUploader{fail: true})

	_, err := a.Register(ctx, registerInput())
	require.ErrorIs(t, err, ErrAssetUpload)
	assert.Empty(t, store.users)
}

func TestRotateInvalidatesPreviousToken(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, _, refresh1, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	_, refresh2, err := a.Rotate(ctx, refresh1)
	require.NoError(t, err)
	assert.NotEqual(t, refresh1, refresh2)

	// The first token has been consumed: presenting it again is reuse.
	_, _, err = a.Rotate(ctx, refresh1)
	require.ErrorIs(t, err, ErrRefreshReuse)

	// The replacement keeps working.
	_, _, err = a.Rotate(ctx, refresh2)
	require.NoError(t, err)
}

func TestRevokeThenRotate(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	user, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, _, refresh, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, user.ID))
	// Revoking an already-revoked session succeeds silently.
	require.NoError(t, a.Revoke(ctx, user.ID))

	_, _, err = a.Rotate(ctx, refresh)
	require.ErrorIs(t, err, ErrRefreshReuse)
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, _, refresh, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := a.Rotate(ctx, refresh)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, reuses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefreshReuse):
			reuses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, reuses)
}

func TestValidateAccessFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(t, store, &fakeUploader{})

	_, err := a.ValidateAccess(ctx, "")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = a.ValidateAccess(ctx, "garbage")
	require.ErrorIs(t, err, ErrUnauthenticated)

	in := registerInput()
	user, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, access, _, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	// A signature-valid token for an account that no longer resolves.
	store.mu.Lock()
	delete(store.users, user.ID)
	store.mu.Unlock()

	_, err = a.ValidateAccess(ctx, access)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateAccessExpired(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(logger, store, store, store, store, &fakeUploader{},
		-time.Minute, 24*time.Hour, accessSecret, refreshSecret)

	in := registerInput()
	_, err := a.Register(ctx, in)
	require.NoError(t, err)

	_, access, _, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	_, err = a.ValidateAccess(ctx, access)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	user, err := a.Register(ctx, in)
	require.NoError(t, err)

	err = a.ChangePassword(ctx, user.ID, "not-the-password", "new-password-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = a.ChangePassword(ctx, user.ID, in.Password, in.Password)
	require.ErrorIs(t, err, ErrInvalidInput)

	err = a.ChangePassword(ctx, user.ID, in.Password, "new-password-1")
	require.NoError(t, err)

	_, _, _, err = a.Login(ctx, in.Username, in.Password)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, _, err = a.Login(ctx, in.Username, "new-password-1")
	require.NoError(t, err)
}

func TestUpdateDetailsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	first := registerInput()
	_, err := a.Register(ctx, first)
	require.NoError(t, err)

	second := registerInput()
	user, err := a.Register(ctx, second)
	require.NoError(t, err)

	_, err = a.UpdateDetails(ctx, user.ID, gofakeit.Name(), first.Email)
	require.ErrorIs(t, err, ErrUserExists)
}

func TestPayloadsNeverCarryCredentials(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t, newFakeStore(), &fakeUploader{})

	in := registerInput()
	user, err := a.Register(ctx, in)
	require.NoError(t, err)

	logged, _, _, err := a.Login(ctx, in.Username, in.Password)
	require.NoError(t, err)

	for _, u := range []*models.User{user, logged} {
		raw, err := json.Marshal(u)
		require.NoError(t, err)
		payload := string(raw)
		assert.NotContains(t, payload, "passHash")
		assert.NotContains(t, payload, "refreshToken")
		assert.NotContains(t, payload, "$2a$")
	}
}
