package jwt

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube/internal/domain/models"
)

const testSecret = "test-secret"

func testUser() *models.User {
	return &models.User{
		ID:       "507f1f77bcf86cd799439011",
		Username: gofakeit.Username(),
		Email:    gofakeit.Email(),
		FullName: gofakeit.Name(),
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	user := testUser()
	issued := time.Now()

	token, err := NewAccessToken(user, testSecret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)

	uid, err := UserID(claims)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uid)
	assert.Equal(t, user.Username, claims["username"])
	assert.Equal(t, user.Email, claims["email"])

	const deltaSeconds = 1
	assert.InDelta(t, issued.Add(time.Hour).Unix(), claims["exp"].(float64), deltaSeconds)
}

func TestRefreshTokenCarriesOnlyUserID(t *testing.T) {
	user := testUser()

	token, err := NewRefreshToken(user, testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)

	uid, err := UserID(claims)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uid)
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "username")
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewAccessToken(testUser(), testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "another-secret")
	require.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := NewAccessToken(testUser(), testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	require.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("not-a-token", testSecret)
	require.Error(t, err)
}
