package security_test

import (
	"testing"
	"time"

	"session-registry/internal/session/adapter/security"
	"session-registry/internal/session/domain/model"
	apperrors "session-registry/internal/shared/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/sha3"
)

type JWTTestSuite struct {
	suite.Suite
	service *security.JWTokenService
	claim   model.Claim
}

func (suite *JWTTestSuite) SetupTest() {
	service, err := security.NewJWTokenService("secret")
	require.NoError(suite.T(), err)
	suite.service = service
	suite.claim = model.Claim{
		SessionID: "123456",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 15, 123000000, time.UTC),
	}
}

func (suite *JWTTestSuite) TestNewJWTokenService_EmptySecret() {
	service, err := security.NewJWTokenService("")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), service)
}

func (suite *JWTTestSuite) TestSignVerify_RoundTrip() {
	token, err := suite.service.Sign(suite.claim)
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), token)

	claim, err := suite.service.Verify(token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.claim.SessionID, claim.SessionID)
	assert.True(suite.T(), suite.claim.CreatedAt.Equal(claim.CreatedAt))
}

func (suite *JWTTestSuite) TestSign_IsDeterministic() {
	first, err := suite.service.Sign(suite.claim)
	require.NoError(suite.T(), err)
	second, err := suite.service.Sign(suite.claim)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), first, second)

	other := suite.claim
	other.CreatedAt = other.CreatedAt.Add(time.Millisecond)
	third, err := suite.service.Sign(other)
	require.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), first, third)
}

func (suite *JWTTestSuite) TestSign_EmptySessionID() {
	_, err := suite.service.Sign(model.Claim{CreatedAt: time.Now()})
	assert.Error(suite.T(), err)
}

func (suite *JWTTestSuite) TestVerify_WrongSecret() {
	other, err := security.NewJWTokenService("another-secret")
	require.NoError(suite.T(), err)

	token, err := other.Sign(suite.claim)
	require.NoError(suite.T(), err)

	_, err = suite.service.Verify(token)
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.IsInvalidToken(err))
	assert.Equal(suite.T(), security.ErrTokenSignatureInvalid, err)
}

func (suite *JWTTestSuite) TestVerify_RejectsOtherAlgorithms() {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sessionId": "123456",
		"createdAt": "2024-05-01T09:30:15.123Z",
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(suite.T(), err)

	_, err = suite.service.Verify(tokenString)
	assert.True(suite.T(), apperrors.IsInvalidToken(err))
}

func (suite *JWTTestSuite) TestVerify_MalformedTokens() {
	testCases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"invalid format", "invalid.token.format"},
		{"malformed jwt", "header.payload"},
		{"random string", "not-a-jwt-token"},
		{"incomplete jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			_, err := suite.service.Verify(tc.token)
			assert.Error(suite.T(), err)
			assert.True(suite.T(), apperrors.IsInvalidToken(err))
		})
	}
}

func (suite *JWTTestSuite) TestVerify_MissingClaims() {
	key := sha3.Sum256([]byte("secret"))
	testCases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"no session id", jwt.MapClaims{"createdAt": "2024-05-01T09:30:15.123Z"}},
		{"no createdAt", jwt.MapClaims{"sessionId": "123456"}},
		{"bad createdAt", jwt.MapClaims{"sessionId": "123456", "createdAt": "yesterday"}},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc.claims).SignedString(key[:])
			require.NoError(suite.T(), err)

			_, err = suite.service.Verify(tokenString)
			assert.Equal(suite.T(), security.ErrTokenClaimsInvalid, err)
		})
	}
}

func TestJWTTestSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
