// Package bank implements the in-process banking service collaborator
// spec.md §6.2 describes as an external contract. It gives the rest of the
// system something concrete to dispatch to, so the end-to-end scenarios in
// spec.md §8 are actually runnable: a mutex-guarded account map keyed by
// accountNo and username, covering multi-user, multi-currency balances
// under username/password/accountNo identity.
package bank

import (
	"fmt"
	"sync"
	"sync/atomic"

	"udpbank/internal/wire"
)

// account is one user's bank account. Fields are unexported; callers only
// ever see balances/currency through Service methods, matching spec.md
// §6.2's synchronous, opaque-to-callers contract.
type account struct {
	username string
	password string
	accountNo string
	currency  wire.Currency
	balanceCents int64
}

// Service implements spec.md §6.2's banking operations. It is safe for
// concurrent use from multiple dispatcher goroutines, and Transfer is
// atomic across both accounts it touches.
type Service struct {
	mu       sync.RWMutex
	byAccount map[string]*account
	byUsername map[string]*account
	nextAcct  atomic.Uint64
}

// NewService returns an empty Service with no accounts.
func NewService() *Service {
	return &Service{
		byAccount:  make(map[string]*account),
		byUsername: make(map[string]*account),
	}
}

func (s *Service) newAccountNo() string {
	n := s.nextAcct.Add(1)
	return fmt.Sprintf("ACC-%06d", n)
}

// OpenAccount creates a new account for username, per spec.md §6.2.
// Username must be globally unique. initialBalanceCents must be >= 0.
func (s *Service) OpenAccount(username, password string, currency wire.Currency, initialBalanceCents int64) (wire.Status, string, int64) {
	if username == "" || password == "" || initialBalanceCents < 0 || !currency.Known() {
		return wire.StatusBadRequest, "", 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[username]; exists {
		return wire.StatusAlreadyExists, "", 0
	}
	a := &account{
		username:     username,
		password:     password,
		accountNo:    s.newAccountNo(),
		currency:     currency,
		balanceCents: initialBalanceCents,
	}
	s.byUsername[username] = a
	s.byAccount[a.accountNo] = a
	return wire.StatusOK, a.accountNo, a.balanceCents
}

// authenticate looks up accountNo and checks it is owned by username with
// the given password, returning AUTH_FAIL for either mismatch without
// revealing which one failed (spec.md §7).
func (s *Service) authenticate(username, password, accountNo string) (*account, wire.Status) {
	a, ok := s.byAccount[accountNo]
	if !ok {
		return nil, wire.StatusNotFound
	}
	if a.username != username || a.password != password {
		return nil, wire.StatusAuthFail
	}
	return a, wire.StatusOK
}

// CloseAccount removes accountNo, per spec.md §6.2.
func (s *Service) CloseAccount(username, password, accountNo string) (wire.Status, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, status := s.authenticate(username, password, accountNo)
	if status != wire.StatusOK {
		return status, 0
	}
	finalBalance := a.balanceCents
	delete(s.byAccount, accountNo)
	delete(s.byUsername, a.username)
	return wire.StatusOK, finalBalance
}

// Deposit credits amountCents to accountNo, per spec.md §6.2. currency, if
// non-zero-value-meaningful (callers pass the account's known currency or
// leave it to be validated against the stored one), must match the
// account's currency.
func (s *Service) Deposit(username, password, accountNo string, currency wire.Currency, haveCurrency bool, amountCents int64) (wire.Status, int64) {
	if amountCents <= 0 {
		return wire.StatusBadRequest, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, status := s.authenticate(username, password, accountNo)
	if status != wire.StatusOK {
		return status, 0
	}
	if haveCurrency && currency != a.currency {
		return wire.StatusCurrencyMismatch, 0
	}
	a.balanceCents += amountCents
	return wire.StatusOK, a.balanceCents
}

// Withdraw debits amountCents from accountNo, per spec.md §6.2.
func (s *Service) Withdraw(username, password, accountNo string, currency wire.Currency, haveCurrency bool, amountCents int64) (wire.Status, int64) {
	if amountCents <= 0 {
		return wire.StatusBadRequest, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, status := s.authenticate(username, password, accountNo)
	if status != wire.StatusOK {
		return status, 0
	}
	if haveCurrency && currency != a.currency {
		return wire.StatusCurrencyMismatch, 0
	}
	if a.balanceCents < amountCents {
		return wire.StatusInsufficientFund, 0
	}
	a.balanceCents -= amountCents
	return wire.StatusOK, a.balanceCents
}

// QueryBalance returns accountNo's balance and currency, per spec.md §6.2.
// spec.md's Open Question on currency is resolved in favor of always
// populating it (DESIGN.md, "Open Question decisions").
func (s *Service) QueryBalance(username, password, accountNo string) (wire.Status, int64, wire.Currency) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, status := s.authenticate(username, password, accountNo)
	if status != wire.StatusOK {
		return status, 0, 0
	}
	return wire.StatusOK, a.balanceCents, a.currency
}

// Transfer moves amountCents from fromAccount to toAccount, atomically:
// either both balances update or neither does, per spec.md §6.2. Both
// accounts are locked under the single Service-wide mutex (a fixed global
// lock rather than per-account locks, which sidesteps lock-ordering
// deadlocks between two concurrent transfers touching the same pair of
// accounts in opposite directions).
func (s *Service) Transfer(username, password, fromAccount, toAccount string, amountCents int64) (wire.Status, int64, int64) {
	if amountCents <= 0 || fromAccount == toAccount {
		return wire.StatusBadRequest, 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	from, status := s.authenticate(username, password, fromAccount)
	if status != wire.StatusOK {
		return status, 0, 0
	}
	to, ok := s.byAccount[toAccount]
	if !ok {
		return wire.StatusNotFound, 0, 0
	}
	if from.currency != to.currency {
		return wire.StatusCurrencyMismatch, 0, 0
	}
	if from.balanceCents < amountCents {
		return wire.StatusInsufficientFund, 0, 0
	}
	from.balanceCents -= amountCents
	to.balanceCents += amountCents
	return wire.StatusOK, from.balanceCents, to.balanceCents
}
