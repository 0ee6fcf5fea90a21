package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// ledgerTxOptions is used for every unit of work the services open. Charge and
// transaction rows are locked with SELECT ... FOR UPDATE and balances by the
// conditional UPDATE in ApplyDelta, so read committed is sufficient.
var ledgerTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// Transactor implements ports.DBTransactor on a pool.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a read-write transaction for a ledger unit of work.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.BeginTx(ctx, ledgerTxOptions)
}
