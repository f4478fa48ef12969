package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// SQLSTATE codes that mean the transaction lost a race and may be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Querier is the subset of pgx shared by pools, connections and
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can open transactions, such as *pgxpool.Pool.
type DB interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ order.TxRunner  = (*Store)(nil)
	_ catalog.Catalog = (*Store)(nil)
	_ invoice.Reader  = (*Store)(nil)
)

// Store runs commit transactions and reads committed data.
type Store struct {
	db DB
}

// NewStore returns a Store backed by db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

var txOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// InTx implements order.TxRunner.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) (rerr error) {
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return classify(errors.Wrap(err, "begin"))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if rerr == nil {
			return
		}
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(err))
		}
	}()

	if err := fn(ctx, &ledgers{q: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// classify turns serialization failures and deadlocks into
// *order.ConflictError.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return &order.ConflictError{Err: err}
		}
	}
	return err
}

// ledgers binds the ledgers to one transaction.
type ledgers struct {
	q Querier
}

func (l *ledgers) Catalog() catalog.Catalog    { return &ProductReader{q: l.q} }
func (l *ledgers) Inventory() inventory.Ledger { return &VariantLedger{q: l.q} }
func (l *ledgers) Coupons() coupon.Ledger      { return &CouponLedger{q: l.q} }
func (l *ledgers) Invoices() invoice.Writer    { return &InvoiceWriter{q: l.q} }
