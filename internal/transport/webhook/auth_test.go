package webhook

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.Sign("booking.com", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token, "booking.com")
	require.NoError(t, err)
	require.Equal(t, "booking.com", claims.Channel)

	_, err = v.Verify(token, "expedia")
	require.ErrorIs(t, err, ErrChannelMismatch)
}

func TestTokenVerifier_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Channel:          "booking.com",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(token, "booking.com")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenVerifier_RequiresExpiration(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Channel: "booking.com"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(token, "booking.com")
	require.ErrorIs(t, err, ErrInvalidToken)
}
