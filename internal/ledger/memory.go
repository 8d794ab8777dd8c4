package ledger

import (
	"context"
	"sync"
	"time"

	"mediagen/internal/domain"
)

// Movement is one applied ledger operation.
type Movement struct {
	Op    Op
	Entry Entry
	At    time.Time
}

type memAccount struct {
	tier    domain.Tier
	balance int
}

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu        sync.Mutex
	accounts  map[string]*memAccount
	applied   map[string]Entry
	movements []Movement
	now       func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*memAccount),
		applied:  make(map[string]Entry),
		now:      time.Now,
	}
}

// SetAccount creates or replaces an account.
func (m *Memory) SetAccount(userID string, tier domain.Tier, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = &memAccount{tier: tier, balance: balance}
}

// Balance returns the current balance of a user.
func (m *Memory) Balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		return a.balance
	}
	return 0
}

// Movements returns the applied operations in order.
func (m *Memory) Movements() []Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Movement(nil), m.movements...)
}

// MovementsFor returns the applied operations of one job.
func (m *Memory) MovementsFor(jobID string) []Movement {
	var out []Movement
	for _, mv := range m.Movements() {
		if mv.Entry.JobID == jobID {
			out = append(out, mv)
		}
	}
	return out
}

func (m *Memory) Debit(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.applied[e.IdempotencyKey(OpDebit)]; done {
		return nil
	}
	acct, ok := m.accounts[e.UserID]
	if !ok {
		return ErrUnknownAccount
	}
	if acct.balance < e.Amount {
		return ErrInsufficientTokens
	}
	acct.balance -= e.Amount
	m.record(OpDebit, e)
	return nil
}

func (m *Memory) Refund(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	debit, ok := m.applied[e.IdempotencyKey(OpDebit)]
	if !ok {
		return ErrNoDebit
	}
	if _, done := m.applied[e.IdempotencyKey(OpRefund)]; done {
		return nil
	}
	if acct, ok := m.accounts[e.UserID]; ok {
		acct.balance += debit.Amount
	}
	e.Amount = debit.Amount
	m.record(OpRefund, e)
	return nil
}

func (m *Memory) Snapshot(ctx context.Context, userID string) (domain.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entitlement{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return domain.Entitlement{}, ErrUnknownAccount
	}
	ent := domain.Entitlement{UserID: userID, Tier: acct.tier, Balance: acct.balance, Daily: map[domain.Kind]int{}}
	y, mo, d := m.now().UTC().Date()
	for _, mv := range m.movements {
		if mv.Op != OpDebit || mv.Entry.UserID != userID {
			continue
		}
		if _, refunded := m.applied[mv.Entry.IdempotencyKey(OpRefund)]; refunded {
			continue
		}
		if my, mm, md := mv.At.UTC().Date(); my == y && mm == mo && md == d {
			ent.Daily[mv.Entry.Kind]++
		}
	}
	return ent, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) record(op Op, e Entry) {
	m.applied[e.IdempotencyKey(op)] = e
	m.movements = append(m.movements, Movement{Op: op, Entry: e, At: m.now()})
}

var _ Accounts = (*Memory)(nil)
