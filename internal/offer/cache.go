package offer

import (
	"context"
	"time"
)

// Cache holds pending credential offers keyed by nonce until the wallet
// dereferences them.
//
// Error Contract: Redeem returns sentinel.ErrNotFound (wrapped) when the nonce
// is unknown, expired, or was already redeemed. Redemption is single-use: a
// second Redeem with the same nonce always fails.
type Cache interface {
	Store(ctx context.Context, nonce string, offer CredentialOffer, ttl time.Duration) error
	Redeem(ctx context.Context, nonce string) (*CredentialOffer, error)
}
