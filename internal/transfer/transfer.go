// Package transfer abstracts token movement in and out of the vault.
// The engine treats transfers as an idealized primitive: a failure aborts
// the calling operation before any ledger mutation.
package transfer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PoolVault/internal/ledger"
)

// ErrTransferFailed wraps any underlying transport failure.
var ErrTransferFailed = errors.New("token transfer failed")

// VaultParty is the pool's own side of every transfer.
const VaultParty = "vault"

// ProviderParty returns the transfer party string for a provider.
func ProviderParty(provider uuid.UUID) string {
	return fmt.Sprintf("provider:%s", provider)
}

// Mover executes a token transfer between two parties. Implementations must
// be synchronous: when Transfer returns nil the funds have moved.
type Mover interface {
	Transfer(token ledger.TokenID, amount int64, from, to string) error
}

// NoopMover accepts every transfer. Used when the chain adapter runs
// out-of-process and settlement finality is confirmed upstream.
type NoopMover struct{}

func (NoopMover) Transfer(ledger.TokenID, int64, string, string) error {
	return nil
}
