package repository

import "session-registry/internal/session/domain/model"

// TokenService signs and verifies session claims. Verify is purely cryptographic
// and never consults the session store.
type TokenService interface {
	Sign(claim model.Claim) (string, error)
	Verify(token string) (model.Claim, error)
}
