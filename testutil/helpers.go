package testutil

import (
	"math/big"
	"testing"

	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
)

// FundAccount mints a balance and pre-approves the custody account to pull
// the whole of it, the setup every staking or dispute test needs.
func FundAccount(t *testing.T, tok *token.InMemory, addr, custody types.Address, amount int64) {
	t.Helper()
	tok.Mint(addr, big.NewInt(amount))
	if err := tok.Approve(addr, custody, big.NewInt(amount)); err != nil {
		t.Fatalf("approve %s for %s: %v", addr, custody, err)
	}
}

// RequireBalance fails the test unless addr holds exactly want.
func RequireBalance(t *testing.T, tok *token.InMemory, addr types.Address, want int64) {
	t.Helper()
	if got := tok.BalanceOf(addr); got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance of %s = %v, want %d", addr, got, want)
	}
}
