package security

import (
	"errors"
	"time"

	"session-registry/internal/session/domain/model"
	apperrors "session-registry/internal/shared/errors"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

// createdAtLayout keeps millisecond precision, matching what the backing stores keep.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrTokenInvalid          = apperrors.NewInvalidTokenError("token is invalid")
	ErrTokenSignatureInvalid = apperrors.NewInvalidTokenError("token signature is invalid")
	ErrTokenClaimsInvalid    = apperrors.NewInvalidTokenError("token claims are invalid")
)

// sessionClaims is the wire form of model.Claim.
type sessionClaims struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt"`
	jwt.RegisteredClaims
}

// JWTokenService signs session claims as HS256 JWTs.
type JWTokenService struct {
	key []byte
}

// NewJWTokenService creates a token service keyed by secret.
func NewJWTokenService(secret string) (*JWTokenService, error) {
	if secret == "" {
		return nil, errors.New("session secret cannot be empty")
	}
	return &JWTokenService{key: deriveHMACKey(secret)}, nil
}

// Sign produces the token for claim. The output depends only on claim and the secret.
func (s *JWTokenService) Sign(claim model.Claim) (string, error) {
	if claim.SessionID == "" {
		return "", errors.New("claim session id cannot be empty")
	}
	createdAt := claim.CreatedAt.UTC()
	claims := &sessionClaims{
		SessionID: claim.SessionID,
		CreatedAt: createdAt.Format(createdAtLayout),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(createdAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify checks the signature and structure of token and returns its claim.
func (s *JWTokenService) Verify(tokenString string) (model.Claim, error) {
	if tokenString == "" {
		return model.Claim{}, ErrTokenInvalid
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignatureInvalid
		}
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return model.Claim{}, ErrTokenSignatureInvalid
		}
		return model.Claim{}, apperrors.NewInvalidTokenError("token is invalid").WithCause(err)
	}
	if !token.Valid {
		return model.Claim{}, ErrTokenInvalid
	}

	if claims.SessionID == "" {
		return model.Claim{}, ErrTokenClaimsInvalid
	}
	createdAt, err := time.Parse(createdAtLayout, claims.CreatedAt)
	if err != nil {
		return model.Claim{}, ErrTokenClaimsInvalid
	}

	return model.Claim{SessionID: claims.SessionID, CreatedAt: createdAt}, nil
}

func deriveHMACKey(secret string) []byte {
	sum := sha3.Sum256([]byte(secret))
	return sum[:]
}
