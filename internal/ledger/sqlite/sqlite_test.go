package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multisend/internal/ledger"
	"multisend/internal/ledger/ledgertest"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerSuite(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return openTemp(t)
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestLedger_StatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	ledgertest.Deploy(t, l, 1000)
	_, err = l.Update(context.Background(), func(tx ledger.Tx) error {
		if err := tx.Approve(ledgertest.Token, ledgertest.Holder, ledgertest.Spender, uint256.NewInt(70)); err != nil {
			return err
		}
		return tx.Transfer(ledgertest.Token, ledgertest.Holder, ledgertest.Bob, uint256.NewInt(30))
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(970), ledgertest.Balance(t, reopened, ledgertest.Holder))
	assert.Equal(t, uint64(30), ledgertest.Balance(t, reopened, ledgertest.Bob))
	assert.Equal(t, uint64(70), ledgertest.Allowance(t, reopened, ledgertest.Holder, ledgertest.Spender))
	err = reopened.View(context.Background(), func(r ledger.Reader) error {
		assert.Equal(t, uint64(2), r.BlockNumber())
		return nil
	})
	require.NoError(t, err)
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id INTEGER);\n", extractUpMigration(content))
	assert.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}
