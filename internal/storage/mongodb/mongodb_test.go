package mongodb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube/internal/domain/models"
	"vidtube/internal/storage"
)

// Integration tests against a real MongoDB. Skipped unless VIDTUBE_MONGO_URI
// is set, e.g. VIDTUBE_MONGO_URI=mongodb://localhost:27017 go test ./...
func testStorage(t *testing.T) (context.Context, *Storage) {
	t.Helper()

	uri := os.Getenv("VIDTUBE_MONGO_URI")
	if uri == "" {
		t.Skip("VIDTUBE_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	db := fmt.Sprintf("vidtube_test_%d", time.Now().UnixNano())
	s, err := New(ctx, uri, db)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = s.database.Drop(cleanupCtx)
		_ = s.Close(cleanupCtx)
		cancel()
	})

	return ctx, s
}

func saveTestUser(t *testing.T, ctx context.Context, s *Storage) *models.User {
	t.Helper()

	user := &models.User{
		Username: strings.ToLower(gofakeit.Username()),
		Email:    strings.ToLower(gofakeit.Email()),
		FullName: gofakeit.Name(),
		Avatar:   gofakeit.URL(),
		PassHash: []byte("hash"),
	}
	id, err := s.SaveUser(ctx, user)
	require.NoError(t, err)
	user.ID = id
	return user
}

func TestSaveUserAndLookups(t *testing.T) {
	ctx, s := testStorage(t)

	user := saveTestUser(t, ctx, s)

	byID, err := s.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, byID.Username)

	byLogin, err := s.UserByLogin(ctx, strings.ToUpper(user.Email))
	require.NoError(t, err)
	assert.Equal(t, user.ID, byLogin.ID)

	byName, err := s.UserByUsername(ctx, strings.ToUpper(user.Username))
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = s.UserByID(ctx, "not-a-hex-id")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestSwapRefreshTokenCAS(t *testing.T) {
	ctx, s := testStorage(t)

	user := saveTestUser(t, ctx, s)

	require.NoError(t, s.SetRefreshToken(ctx, user.ID, "token-1"))

	// Matching swap wins.
	require.NoError(t, s.SwapRefreshToken(ctx, user.ID, "token-1", "token-2"))

	// The consumed value no longer matches.
	err := s.SwapRefreshToken(ctx, user.ID, "token-1", "token-3")
	require.ErrorIs(t, err, storage.ErrTokenMismatch)

	// Cleared token matches nothing either.
	require.NoError(t, s.ClearRefreshToken(ctx, user.ID))
	err = s.SwapRefreshToken(ctx, user.ID, "token-2", "token-4")
	require.ErrorIs(t, err, storage.ErrTokenMismatch)
}

func TestSwapAssetRefReturnsPrevious(t *testing.T) {
	ctx, s := testStorage(t)

	user := saveTestUser(t, ctx, s)

	prev, err := s.SwapAssetRef(ctx, user.ID, "avatar", "https://assets.test/new.png")
	require.NoError(t, err)
	assert.Equal(t, user.Avatar, prev)

	prev, err = s.SwapAssetRef(ctx, user.ID, "coverImage", "https://assets.test/cover.png")
	require.NoError(t, err)
	assert.Empty(t, prev)

	_, err = s.SwapAssetRef(ctx, user.ID, "banner", "x")
	require.Error(t, err)
}

func TestChannelProfileAggregation(t *testing.T) {
	ctx, s := testStorage(t)

	channel := saveTestUser(t, ctx, s)
	viewer := saveTestUser(t, ctx, s)
	other1 := saveTestUser(t, ctx, s)
	other2 := saveTestUser(t, ctx, s)

	// 3 inbound edges, one of them from the viewer.
	for _, sub := range []*models.User{viewer, other1, other2} {
		require.NoError(t, s.SaveSubscription(ctx, sub.ID, channel.ID))
	}
	// 2 outbound edges.
	require.NoError(t, s.SaveSubscription(ctx, channel.ID, other1.ID))
	require.NoError(t, s.SaveSubscription(ctx, channel.ID, other2.ID))

	profile, err := s.ChannelProfile(ctx, viewer.ID, channel.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(3), profile.SubscriberCount)
	assert.Equal(t, int64(2), profile.SubscribedToCount)
	assert.True(t, profile.IsSubscribed)

	// A viewer with no edge to the channel.
	profile, err = s.ChannelProfile(ctx, other2.ID, other1.Username)
	require.NoError(t, err)
	assert.False(t, profile.IsSubscribed)

	_, err = s.ChannelProfile(ctx, viewer.ID, "no-such-channel")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestWatchHistoryOrderAndOwnerJoin(t *testing.T) {
	ctx, s := testStorage(t)

	owner := saveTestUser(t, ctx, s)
	watcher := saveTestUser(t, ctx, s)

	var videoIDs []string
	for i := 0; i < 3; i++ {
		id, err := s.SaveVideo(ctx, &models.Video{
			Title:       fmt.Sprintf("video-%d", i),
			VideoFile:   gofakeit.URL(),
			Thumbnail:   gofakeit.URL(),
			OwnerID:     owner.ID,
			Duration:    42,
			IsPublished: true,
		})
		require.NoError(t, err)
		videoIDs = append(videoIDs, id)
	}

	for _, id := range videoIDs {
		require.NoError(t, s.AddToWatchHistory(ctx, watcher.ID, id))
	}

	entries, err := s.WatchHistory(ctx, watcher.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Prepend semantics: most recently watched first.
	assert.Equal(t, videoIDs[2], entries[0].ID)
	assert.Equal(t, videoIDs[1], entries[1].ID)
	assert.Equal(t, videoIDs[0], entries[2].ID)

	for _, e := range entries {
		require.NotNil(t, e.Owner)
		assert.Equal(t, owner.Username, e.Owner.Username)
	}
}

func TestListVideosOwnerJoinAndPaging(t *testing.T) {
	ctx, s := testStorage(t)

	owner := saveTestUser(t, ctx, s)
	for i := 0; i < 5; i++ {
		_, err := s.SaveVideo(ctx, &models.Video{
			Title:   fmt.Sprintf("video-%d", i),
			OwnerID: owner.ID,
			Views:   int64(i),
		})
		require.NoError(t, err)
	}

	listings, err := s.ListVideos(ctx, owner.ID, "views", true, 1, 3)
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, int64(4), listings[0].Views)
	require.NotNil(t, listings[0].Owner)
	assert.Equal(t, owner.Username, listings[0].Owner.Username)

	listings, err = s.ListVideos(ctx, owner.ID, "views", true, 2, 3)
	require.NoError(t, err)
	require.Len(t, listings, 2)
}
