// Package vault stores per-organization signer secrets. Secrets are opaque
// JSON documents keyed by an organization/config-id path; the issuer never
// interprets them beyond the fields it reads back.
package vault

import (
	"context"
	"encoding/json"
)

// Store is the secret-store contract.
//
// Error Contract: Get and Delete return sentinel.ErrNotFound (wrapped) for an
// unknown key. Patch merges top-level fields into the existing document and
// fails with sentinel.ErrNotFound when there is nothing to merge into.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Save(ctx context.Context, key string, secrets json.RawMessage) error
	Patch(ctx context.Context, key string, secrets json.RawMessage) error
	Delete(ctx context.Context, key string) error
}
