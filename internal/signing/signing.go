// Package signing provides detached signers and verifiers for ledger
// entries. Signers are injected into the ledger stores; an unavailable
// signer yields an unsigned entry, never a failed append.
package signing

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no signing capability is configured or
// the external signer could not be reached.
var ErrUnavailable = errors.New("signing: signer unavailable")

// ErrInvalidSignature is returned by a Verifier when a signature does not
// match its payload.
var ErrInvalidSignature = errors.New("signing: invalid signature")

// Signer produces a detached signature over payload.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (string, error)
}

// Verifier checks a detached signature over payload.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, signature string) error
}

// Nop is a Signer that never signs.
type Nop struct{}

// Sign implements Signer.
func (Nop) Sign(context.Context, []byte) (string, error) { return "", ErrUnavailable }
