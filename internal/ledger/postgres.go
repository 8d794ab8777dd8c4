package ledger

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// Postgres applies ledger operations directly against the accounts
// database. Each operation runs in one transaction: the op row insert is
// the idempotency guard and the balance update happens only when it lands.
type Postgres struct {
	sql infra.TxRunner
}

func NewPostgres(sql infra.TxRunner) *Postgres {
	return &Postgres{sql: sql}
}

func (p *Postgres) Debit(ctx context.Context, e Entry) error {
	return p.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		tag, err := tx.Exec(ctx, sqlinline.QInsertLedgerOp, e.UserID, e.JobID, string(OpDebit), string(e.Kind), e.Amount)
		if err != nil {
			return fmt.Errorf("ledger: insert debit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, sqlinline.QDebitBalance, e.UserID, e.Amount)
		if err != nil {
			return fmt.Errorf("ledger: debit balance: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var tier string
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QSelectAccount, e.UserID).Scan(&tier, &balance); err != nil {
			if infra.IsNoRows(err) {
				return ErrUnknownAccount
			}
			return fmt.Errorf("ledger: load account: %w", err)
		}
		return ErrInsufficientTokens
	})
}

func (p *Postgres) Refund(ctx context.Context, e Entry) error {
	return p.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var debited int
		if err := tx.QueryRow(ctx, sqlinline.QSelectDebitAmount, e.UserID, e.JobID).Scan(&debited); err != nil {
			if infra.IsNoRows(err) {
				return ErrNoDebit
			}
			return fmt.Errorf("ledger: load debit: %w", err)
		}
		tag, err := tx.Exec(ctx, sqlinline.QInsertLedgerOp, e.UserID, e.JobID, string(OpRefund), string(e.Kind), debited)
		if err != nil {
			return fmt.Errorf("ledger: insert refund: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, sqlinline.QCreditBalance, e.UserID, debited); err != nil {
			return fmt.Errorf("ledger: credit balance: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Snapshot(ctx context.Context, userID string) (domain.Entitlement, error) {
	ent := domain.Entitlement{UserID: userID, Daily: map[domain.Kind]int{}}
	var tier string
	if err := p.sql.QueryRow(ctx, sqlinline.QSelectAccount, userID).Scan(&tier, &ent.Balance); err != nil {
		if infra.IsNoRows(err) {
			return domain.Entitlement{}, ErrUnknownAccount
		}
		return domain.Entitlement{}, fmt.Errorf("ledger: load account: %w", err)
	}
	ent.Tier = domain.Tier(tier)

	rows, err := p.sql.Query(ctx, sqlinline.QSelectDailyUsage, userID)
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("ledger: daily usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return domain.Entitlement{}, fmt.Errorf("ledger: scan usage: %w", err)
		}
		if k, ok := domain.ParseKind(kind); ok {
			ent.Daily[k] = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Entitlement{}, fmt.Errorf("ledger: daily usage: %w", err)
	}
	return ent, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	return p.sql.QueryRow(ctx, sqlinline.QPing).Scan(&one)
}

// SetTier creates the account if needed and assigns tier.
func (p *Postgres) SetTier(ctx context.Context, userID string, tier domain.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("ledger: unsupported tier %q", tier)
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QUpsertAccountTier, userID, string(tier)); err != nil {
		return fmt.Errorf("ledger: set tier: %w", err)
	}
	return nil
}

// Grant adds tokens to an account outside of any job and returns the new balance.
func (p *Postgres) Grant(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	if err := p.sql.QueryRow(ctx, sqlinline.QGrantTokens, userID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: grant: %w", err)
	}
	return balance, nil
}

var _ Accounts = (*Postgres)(nil)
