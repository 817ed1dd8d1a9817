package token

import (
	"errors"
	"math/big"
	"testing"
)

func TestTransfer(t *testing.T) {
	l := NewInMemory()
	l.Mint("a", big.NewInt(100))

	if err := l.Transfer("a", "b", big.NewInt(60)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := l.BalanceOf("a"); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("a = %v, want 40", got)
	}
	if got := l.BalanceOf("b"); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("b = %v, want 60", got)
	}

	if err := l.Transfer("a", "b", big.NewInt(41)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraft error = %v, want ErrInsufficientBalance", err)
	}
	if err := l.Transfer("a", "b", big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("negative error = %v, want ErrNegativeAmount", err)
	}
}

func TestTransferFrom(t *testing.T) {
	l := NewInMemory()
	l.Mint("owner", big.NewInt(100))

	// No allowance yet.
	if err := l.TransferFrom("spender", "owner", "sink", big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("error = %v, want ErrInsufficientAllowance", err)
	}

	if err := l.Approve("owner", "spender", big.NewInt(50)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := l.TransferFrom("spender", "owner", "sink", big.NewInt(30)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := l.Allowance("owner", "spender"); got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("allowance = %v, want 20", got)
	}
	if got := l.BalanceOf("sink"); got.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("sink = %v, want 30", got)
	}

	// Allowance left but balance exhausted elsewhere.
	if err := l.Transfer("owner", "sink", big.NewInt(70)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := l.TransferFrom("spender", "owner", "sink", big.NewInt(20)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("error = %v, want ErrInsufficientBalance", err)
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := NewInMemory()
	l.Mint("a", big.NewInt(10))

	l.BalanceOf("a").SetInt64(999)
	if got := l.BalanceOf("a"); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("internal balance mutated through result: %v", got)
	}
}
