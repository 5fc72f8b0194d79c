// Package ledger tracks wallet balances and per-run budget reservations.
// The locking and test-and-set reserve pattern are grounded on a
// conventional internal/task/memory_store.go, which guards its in-memory map
// with a single RWMutex and performs claim-style compare-and-swap updates
// under that lock; here one ledger-wide mutex serializes every mutation,
// which also serializes mutations per wallet. Reservations against
// different wallets therefore wait on the same lock.
package ledger

import (
	"sync"
	"time"

	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// ReservationStatus is the lifecycle of one budget reservation.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationReleased ReservationStatus = "released"
	ReservationSettled  ReservationStatus = "settled"
)

// Reservation is the atomic debit tied to one run.
type Reservation struct {
	ID       string
	RunID    string
	Wallet   string
	Amount   money.Atomic
	Token    string
	Chain    string
	Status   ReservationStatus
	Spent    money.Atomic
	CreatedAt time.Time
	UpdatedAt time.Time
}

type walletKey struct {
	wallet string
	token  string
}

// Ledger is the in-memory, per-wallet-serialized budget tracker.
type Ledger struct {
	mu           sync.Mutex
	balances     map[walletKey]money.Atomic
	reservations map[string]Reservation // keyed by runID
	now          func() time.Time
	idgen        func() string
}

// New constructs an empty Ledger. idgen supplies reservation ids (e.g.
// uuid.New().String()); tests may pass a deterministic generator.
func New(idgen func() string) *Ledger {
	return &Ledger{
		balances:     make(map[walletKey]money.Atomic),
		reservations: make(map[string]Reservation),
		now:          time.Now,
		idgen:        idgen,
	}
}

// Credit adds amount to wallet's balance for token. Intended for test setup
// and operator top-ups; production balances normally come from on-chain
// observation, which is out of the core's scope.
func (l *Ledger) Credit(wallet, token string, amount money.Atomic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := walletKey{wallet, token}
	sum, err := money.Add(l.balances[key], amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "credit overflowed wallet balance")
	}
	l.balances[key] = sum
	return nil
}

// Balance returns wallet's balance for token, defaulting to 0.
func (l *Ledger) Balance(wallet, token string) money.Atomic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[walletKey{wallet, token}]
}

// Reserve atomically checks balance >= amount and, if so, debits it and
// creates a reserved reservation keyed by runID. The check-then-debit
// happens under the ledger's single mutex, so no two concurrent reserves
// can observe the same balance and both succeed.
func (l *Ledger) Reserve(runID, wallet string, amount money.Atomic, token, chain string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.reservations[runID]; exists {
		return Reservation{}, xerrors.New(xerrors.CodeState, "run already has a live reservation: "+runID)
	}

	key := walletKey{wallet, token}
	bal := l.balances[key]
	if !bal.GTE(amount) {
		return Reservation{}, xerrors.New(xerrors.CodeInsufficientBudget, "wallet balance too low for reservation")
	}

	newBal, err := money.Sub(bal, amount)
	if err != nil {
		return Reservation{}, xerrors.Wrap(xerrors.CodeState, err, "reservation debit underflowed")
	}
	l.balances[key] = newBal

	now := l.now()
	res := Reservation{
		ID:        l.idgen(),
		RunID:     runID,
		Wallet:    wallet,
		Amount:    amount,
		Token:     token,
		Chain:     chain,
		Status:    ReservationReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.reservations[runID] = res
	return res, nil
}

// Release refunds reserved-spent to the wallet and marks the reservation
// released. Callers must not release a reservation twice; a second call
// fails with a StateError rather than silently no-op-ing.
func (l *Ledger) Release(runID string, spent money.Atomic) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[runID]
	if !ok {
		return Reservation{}, xerrors.New(xerrors.CodeState, "no reservation for run: "+runID)
	}
	if res.Status != ReservationReserved {
		return Reservation{}, xerrors.New(xerrors.CodeState, "reservation already "+string(res.Status))
	}

	refund, err := money.Sub(res.Amount, spent)
	if err != nil {
		return Reservation{}, xerrors.Wrap(xerrors.CodeState, err, "spent exceeds reserved amount")
	}

	key := walletKey{res.Wallet, res.Token}
	newBal, err := money.Add(l.balances[key], refund)
	if err != nil {
		return Reservation{}, xerrors.Wrap(xerrors.CodeState, err, "refund overflowed wallet balance")
	}
	l.balances[key] = newBal

	res.Status = ReservationReleased
	res.Spent = spent
	res.UpdatedAt = l.now()
	l.reservations[runID] = res
	return res, nil
}

// Settle marks the reservation settled, consuming the remaining reserved
// funds with no refund.
func (l *Ledger) Settle(runID string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[runID]
	if !ok {
		return Reservation{}, xerrors.New(xerrors.CodeState, "no reservation for run: "+runID)
	}
	if res.Status != ReservationReserved {
		return Reservation{}, xerrors.New(xerrors.CodeState, "reservation already "+string(res.Status))
	}

	res.Status = ReservationSettled
	res.Spent = res.Amount
	res.UpdatedAt = l.now()
	l.reservations[runID] = res
	return res, nil
}

// ReservationFor returns the current reservation for runID, if any.
func (l *Ledger) ReservationFor(runID string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[runID]
	return res, ok
}
