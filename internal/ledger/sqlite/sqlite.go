// Package sqlite implements a persistent token ledger on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"

	"multisend/internal/ledger"
	"multisend/internal/ledger/sqlite/migrations"
)

// Ledger stores token state in SQLite. Every Update runs in one SQL
// transaction, so a failed callback rolls back all of its writes.
type Ledger struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the ledger database at path and applies migrations
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers and keeps block numbers gapless
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Ledger{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection
func (l *Ledger) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	return l.sqlDB.Close()
}

// View runs fn inside a transaction that is always rolled back
func (l *Ledger) View(ctx context.Context, fn func(ledger.Reader) error) error {
	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return wrapClosed(fmt.Errorf("begin view: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	st, err := newStore(ctx, tx)
	if err != nil {
		return err
	}
	return fn(ledger.NewStateTx(st))
}

// Update runs fn inside a SQL transaction and commits a new block on success
func (l *Ledger) Update(ctx context.Context, fn func(ledger.Tx) error) (*ledger.Commit, error) {
	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("begin update: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	st, err := newStore(ctx, tx)
	if err != nil {
		return nil, err
	}
	stateTx := ledger.NewStateTx(st)
	if err := fn(stateTx); err != nil {
		return nil, err
	}

	block := st.block + 1
	if _, err := tx.ExecContext(ctx, `UPDATE chain_head SET block_number = ? WHERE id = 1`, block); err != nil {
		return nil, fmt.Errorf("advance block: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	committed = true

	return ledger.Seal(block, stateTx.Events()), nil
}

func wrapClosed(err error) error {
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", ledger.ErrClosed, err)
	}
	return err
}

// store implements ledger.Store on top of one SQL transaction
type store struct {
	ctx   context.Context
	tx    *sql.Tx
	block uint64
}

func newStore(ctx context.Context, tx *sql.Tx) (*store, error) {
	var block uint64
	if err := tx.QueryRowContext(ctx, `SELECT block_number FROM chain_head WHERE id = 1`).Scan(&block); err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	return &store{ctx: ctx, tx: tx, block: block}, nil
}

func (s *store) BlockNumber() uint64 {
	return s.block
}

func (s *store) LoadToken(token common.Address) (*ledger.TokenInfo, bool, error) {
	var (
		info   = ledger.TokenInfo{Address: token}
		supply string
	)
	err := s.tx.QueryRowContext(s.ctx,
		`SELECT name, symbol, decimals, total_supply FROM tokens WHERE address = ?`,
		token.Hex(),
	).Scan(&info.Name, &info.Symbol, &info.Decimals, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load token: %w", err)
	}
	if info.TotalSupply, err = parseAmount(supply); err != nil {
		return nil, false, err
	}
	return &info, true, nil
}

func (s *store) StoreToken(info *ledger.TokenInfo) error {
	_, err := s.tx.ExecContext(s.ctx, `
INSERT INTO tokens (address, name, symbol, decimals, total_supply)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
	name = excluded.name,
	symbol = excluded.symbol,
	decimals = excluded.decimals,
	total_supply = excluded.total_supply
`,
		info.Address.Hex(), info.Name, info.Symbol, info.Decimals, info.TotalSupply.Dec(),
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *store) LoadBalance(token, account common.Address) (*uint256.Int, error) {
	var amount string
	err := s.tx.QueryRowContext(s.ctx,
		`SELECT amount FROM balances WHERE token = ? AND account = ?`,
		token.Hex(), account.Hex(),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return parseAmount(amount)
}

func (s *store) StoreBalance(token, account common.Address, amount *uint256.Int) error {
	var err error
	if amount.IsZero() {
		_, err = s.tx.ExecContext(s.ctx,
			`DELETE FROM balances WHERE token = ? AND account = ?`,
			token.Hex(), account.Hex(),
		)
	} else {
		_, err = s.tx.ExecContext(s.ctx, `
INSERT INTO balances (token, account, amount) VALUES (?, ?, ?)
ON CONFLICT(token, account) DO UPDATE SET amount = excluded.amount
`,
			token.Hex(), account.Hex(), amount.Dec(),
		)
	}
	if err != nil {
		return fmt.Errorf("store balance: %w", err)
	}
	return nil
}

func (s *store) LoadAllowance(token, owner, spender common.Address) (*uint256.Int, error) {
	var amount string
	err := s.tx.QueryRowContext(s.ctx,
		`SELECT amount FROM allowances WHERE token = ? AND owner = ? AND spender = ?`,
		token.Hex(), owner.Hex(), spender.Hex(),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load allowance: %w", err)
	}
	return parseAmount(amount)
}

func (s *store) StoreAllowance(token, owner, spender common.Address, amount *uint256.Int) error {
	var err error
	if amount.IsZero() {
		_, err = s.tx.ExecContext(s.ctx,
			`DELETE FROM allowances WHERE token = ? AND owner = ? AND spender = ?`,
			token.Hex(), owner.Hex(), spender.Hex(),
		)
	} else {
		_, err = s.tx.ExecContext(s.ctx, `
INSERT INTO allowances (token, owner, spender, amount) VALUES (?, ?, ?, ?)
ON CONFLICT(token, owner, spender) DO UPDATE SET amount = excluded.amount
`,
			token.Hex(), owner.Hex(), spender.Hex(), amount.Dec(),
		)
	}
	if err != nil {
		return fmt.Errorf("store allowance: %w", err)
	}
	return nil
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return amount, nil
}
