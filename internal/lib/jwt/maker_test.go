package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access_secret_key_1234567890"
	testRefreshSecret = "refresh_secret_key_0987654321"
)

func newTestMaker(t *testing.T, accessTTL, refreshTTL time.Duration) *MakerImpl {
	t.Helper()
	maker, err := NewMaker(testAccessSecret, testRefreshSecret, accessTTL, refreshTTL)
	require.NoError(t, err)
	return maker
}

func TestNewMaker_FailsClosedWithoutSecrets(t *testing.T) {
	tests := []struct {
		name          string
		accessSecret  string
		refreshSecret string
		wantErr       error
	}{
		{name: "нет access-секрета", accessSecret: "", refreshSecret: "r", wantErr: ErrMissingSecret},
		{name: "нет refresh-секрета", accessSecret: "a", refreshSecret: "", wantErr: ErrMissingSecret},
		{name: "нет обоих секретов", accessSecret: "", refreshSecret: "", wantErr: ErrMissingSecret},
		{name: "секреты совпадают", accessSecret: "same", refreshSecret: "same", wantErr: ErrIdenticalSecrets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, err := NewMaker(tt.accessSecret, tt.refreshSecret, time.Minute, time.Hour)
			assert.Nil(t, maker)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMaker_GenerateAndParseToken(t *testing.T) {
	accessTTL := 15 * time.Minute
	maker := newTestMaker(t, accessTTL, 7*24*time.Hour)

	tests := []struct {
		name      string
		accountID string
		email     string
		role      string
	}{
		{name: "обычный пользователь", accountID: "7c8aeb1e-1a8e-4bb4-8a2e-0a1b2c3d4e5f", email: "a@x.com", role: "user"},
		{name: "администратор", accountID: "0b1c2d3e-4f50-6172-8394-a5b6c7d8e9f0", email: "admin@x.com", role: "admin"},
		{name: "премиум", accountID: "1a2b3c4d-5e6f-7081-92a3-b4c5d6e7f809", email: "p@x.com", role: "premium"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.accountID, tt.email, tt.role)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.accountID, claims.AccountID)
			assert.Equal(t, tt.email, claims.Email)
			assert.Equal(t, tt.role, claims.Role)
			assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second)
			assert.WithinDuration(t, time.Now().Add(accessTTL), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestMaker_ParseToken_Expired(t *testing.T) {
	maker := newTestMaker(t, -time.Hour, 7*24*time.Hour)

	token, err := maker.GenerateToken("uid", "a@x.com", "user")
	require.NoError(t, err)

	claims, err := maker.ParseToken(token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, errors.Is(err, ErrTokenInvalid))
}

func TestMaker_ParseToken_InvalidTokens(t *testing.T) {
	maker := newTestMaker(t, 15*time.Minute, 7*24*time.Hour)

	validToken, err := maker.GenerateToken("uid", "a@x.com", "user")
	require.NoError(t, err)

	otherMaker, err := NewMaker("another_access_secret", "another_refresh_secret", 15*time.Minute, time.Hour)
	require.NoError(t, err)
	foreignToken, err := otherMaker.GenerateToken("uid", "a@x.com", "user")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "пустой токен", token: ""},
		{name: "малформированный токен", token: "invalid.token.here"},
		{name: "испорченная подпись", token: validToken + "tampered"},
		{name: "чужой секрет", token: foreignToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestMaker_RefreshTokenRoundTrip(t *testing.T) {
	maker := newTestMaker(t, 15*time.Minute, 7*24*time.Hour)

	refresh, err := maker.GenerateRefreshToken("uid-1")
	require.NoError(t, err)

	claims, err := maker.ParseRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.AccountID)
	assert.Equal(t, RefreshTokenType, claims.TokenType)
}

func TestMaker_TokenTypesAreNotInterchangeable(t *testing.T) {
	maker := newTestMaker(t, 15*time.Minute, 7*24*time.Hour)

	access, err := maker.GenerateToken("uid-1", "a@x.com", "user")
	require.NoError(t, err)
	refresh, err := maker.GenerateRefreshToken("uid-1")
	require.NoError(t, err)

	// refresh-токен не проходит проверку access-токена
	accessClaims, err := maker.ParseToken(refresh)
	assert.Nil(t, accessClaims)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// access-токен не проходит проверку refresh-токена
	refreshClaims, err := maker.ParseRefreshToken(access)
	assert.Nil(t, refreshClaims)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMaker_ExpiredRefreshToken(t *testing.T) {
	maker := newTestMaker(t, 15*time.Minute, -time.Hour)

	refresh, err := maker.GenerateRefreshToken("uid-1")
	require.NoError(t, err)

	claims, err := maker.ParseRefreshToken(refresh)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
