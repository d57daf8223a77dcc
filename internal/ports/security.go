package ports

import (
	"context"
	"time"
)

type VerifiedIdentity struct {
	SubjectID string
	Role      string
	ExpiresAt time.Time
}

// TokenVerifier turns a bearer token into the identity it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (VerifiedIdentity, error)
}
