package memory

import (
	"testing"

	"moneta/internal/ledger"
	"moneta/internal/ledger/ledgertest"
)

func TestMemoryStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return New() })
}
