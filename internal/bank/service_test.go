package bank

import (
	"sync"
	"testing"

	"udpbank/internal/wire"
)

func TestOpenAccountAndDuplicate(t *testing.T) {
	s := NewService()
	status, acctNo, bal := s.OpenAccount("alice", "pw", wire.CurrencySGD, 100000)
	if status != wire.StatusOK {
		t.Fatalf("OpenAccount: status = %v", status)
	}
	if acctNo == "" || bal != 100000 {
		t.Fatalf("OpenAccount: acctNo=%q bal=%d", acctNo, bal)
	}

	status, _, _ = s.OpenAccount("alice", "pw", wire.CurrencySGD, 100000)
	if status != wire.StatusAlreadyExists {
		t.Fatalf("expected ALREADY_EXISTS, got %v", status)
	}
}

func TestDepositWithdrawQueryBalance(t *testing.T) {
	s := NewService()
	_, acct, _ := s.OpenAccount("bob", "pw", wire.CurrencyUSD, 0)

	status, bal := s.Deposit("bob", "pw", acct, wire.CurrencyUSD, true, 5000)
	if status != wire.StatusOK || bal != 5000 {
		t.Fatalf("Deposit: status=%v bal=%d", status, bal)
	}

	status, bal = s.Withdraw("bob", "pw", acct, wire.CurrencyUSD, true, 2000)
	if status != wire.StatusOK || bal != 3000 {
		t.Fatalf("Withdraw: status=%v bal=%d", status, bal)
	}

	status, bal = s.Withdraw("bob", "pw", acct, wire.CurrencyUSD, true, 999999)
	if status != wire.StatusInsufficientFund {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", status)
	}

	status, bal, cur := s.QueryBalance("bob", "pw", acct)
	if status != wire.StatusOK || bal != 3000 || cur != wire.CurrencyUSD {
		t.Fatalf("QueryBalance: status=%v bal=%d cur=%v", status, bal, cur)
	}
}

func TestAuthFailDoesNotLeakWhichFieldWrong(t *testing.T) {
	s := NewService()
	_, acct, _ := s.OpenAccount("carol", "secret", wire.CurrencyEUR, 1000)

	if status, _ := s.Withdraw("carol", "wrong-pw", acct, wire.CurrencyEUR, true, 100); status != wire.StatusAuthFail {
		t.Fatalf("expected AUTH_FAIL for wrong password, got %v", status)
	}
	if status, _ := s.Withdraw("mallory", "secret", acct, wire.CurrencyEUR, true, 100); status != wire.StatusAuthFail {
		t.Fatalf("expected AUTH_FAIL for wrong username, got %v", status)
	}
}

func TestCurrencyMismatch(t *testing.T) {
	s := NewService()
	_, acct, _ := s.OpenAccount("dave", "pw", wire.CurrencySGD, 1000)
	if status, _ := s.Deposit("dave", "pw", acct, wire.CurrencyUSD, true, 100); status != wire.StatusCurrencyMismatch {
		t.Fatalf("expected CURRENCY_MISMATCH, got %v", status)
	}
}

func TestTransferAtomicAndCloseAccount(t *testing.T) {
	s := NewService()
	_, a, _ := s.OpenAccount("a", "pw", wire.CurrencySGD, 100000)
	_, b, _ := s.OpenAccount("b", "pw", wire.CurrencySGD, 100000)

	status, newSrc, newDst := s.Transfer("a", "pw", a, b, 10000)
	if status != wire.StatusOK || newSrc != 90000 || newDst != 110000 {
		t.Fatalf("Transfer: status=%v src=%d dst=%d", status, newSrc, newDst)
	}

	status, _, _ = s.Transfer("a", "pw", a, b, 999999999)
	if status != wire.StatusInsufficientFund {
		t.Fatalf("expected INSUFFICIENT_FUNDS on overdraft transfer, got %v", status)
	}

	status, finalBal := s.CloseAccount("a", "pw", a)
	if status != wire.StatusOK || finalBal != 90000 {
		t.Fatalf("CloseAccount: status=%v bal=%d", status, finalBal)
	}
	if status, _, _ := s.Transfer("a", "pw", a, b, 1); status != wire.StatusNotFound {
		t.Fatalf("expected NOT_FOUND transferring from closed account, got %v", status)
	}
}

// TestTransferConcurrentNoLostUpdates exercises spec.md §6.2's atomicity
// requirement under concurrency: many simultaneous transfers back and
// forth between two accounts must never lose an update.
func TestTransferConcurrentNoLostUpdates(t *testing.T) {
	s := NewService()
	_, a, _ := s.OpenAccount("x", "pw", wire.CurrencySGD, 1000000)
	_, b, _ := s.OpenAccount("y", "pw", wire.CurrencySGD, 1000000)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.Transfer("x", "pw", a, b, 10)
			} else {
				s.Transfer("y", "pw", b, a, 10)
			}
		}(i)
	}
	wg.Wait()

	_, balA, _ := s.QueryBalance("x", "pw", a)
	_, balB, _ := s.QueryBalance("y", "pw", b)
	if balA+balB != 2000000 {
		t.Fatalf("total balance drifted: a=%d b=%d sum=%d want 2000000", balA, balB, balA+balB)
	}
}
