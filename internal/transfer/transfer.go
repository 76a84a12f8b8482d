// Package transfer is the boundary to the asset-transfer network that funds
// payouts. The core only depends on the Client interface; the wire protocol
// behind it is a deployment concern.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyApplied reports that the network has already executed a
	// transfer with the same reference. Callers treat this as success.
	ErrAlreadyApplied = errors.New("transfer already applied")

	// ErrTemporarilyUnavailable marks failures worth retrying: timeouts,
	// congestion, missing anchor. Anything else is permanent.
	ErrTemporarilyUnavailable = errors.New("transfer network temporarily unavailable")

	ErrNotFound = errors.New("transfer not found")
)

// Transfer is one outbound payment from the custodial holding.
type Transfer struct {
	Reference   string          // idempotency key, stable across retries
	Destination string          // participant wallet/account handle
	Amount      decimal.Decimal
	Memo        string
}

// Receipt is the network's confirmation of an applied transfer.
type Receipt struct {
	Reference string
	Signature string
	AppliedAt time.Time
}

type Client interface {
	// Anchor returns a current network anchor handle used to anchor
	// transfers, failing if the network is unreachable. Callers use it as
	// the cheap reachability probe before touching any funds.
	Anchor(ctx context.Context) (string, error)

	// Submit executes a transfer. Submitting the same reference twice
	// returns ErrAlreadyApplied.
	Submit(ctx context.Context, t Transfer) (*Receipt, error)

	// Lookup returns the receipt of a previously applied transfer.
	Lookup(ctx context.Context, reference string) (*Receipt, error)
}

// FromEnv selects the network backend named by TRANSFER_NETWORK. Only the
// in-memory backend is wired so far.
// TODO: add the production asset-network backend once its endpoint config
// lands.
func FromEnv() (Client, error) {
	switch backend := os.Getenv("TRANSFER_NETWORK"); backend {
	case "", "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown transfer network backend %q", backend)
	}
}
