package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret", "expo")
	tok, err := v.Issue("U1", RoleOrganizer, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "U1", Role: RoleOrganizer}, id)
	assert.True(t, id.IsOrganizer())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret", "expo")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		return Claims{Role: RoleAttendee, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "U2",
			Issuer:    "expo",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExp := valid()
	noExp.ExpiresAt = nil
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""

	testCases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("s3cret"), valid())},
		{"unsigned", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{"expired", sign(jwt.SigningMethodHS256, []byte("s3cret"), expired)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("s3cret"), noExp)},
		{"other issuer", sign(jwt.SigningMethodHS256, []byte("s3cret"), otherIssuer)},
		{"no subject", sign(jwt.SigningMethodHS256, []byte("s3cret"), noSubject)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	id, err := v.Verify(sign(jwt.SigningMethodHS256, []byte("s3cret"), valid()))
	require.NoError(t, err)
	assert.Equal(t, "U2", id.UserID)
	assert.False(t, id.IsOrganizer())
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		token, ok := BearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}
