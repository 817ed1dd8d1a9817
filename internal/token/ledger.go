package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/beenest/arbiterd/internal/types"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a transferFrom exceeds the
	// spender's remaining allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrNegativeAmount is returned for negative transfer or approval
	// amounts. The ledger only deals in non-negative quantities.
	ErrNegativeAmount = errors.New("negative amount")
)

// Ledger is the external value-transfer primitive the engine settles
// against. Semantics are the standard fungible-token contract: amounts are
// conserved, Approve overwrites rather than increments, and transfers fail
// on insufficient balance.
type Ledger interface {
	Transfer(from, to types.Address, amount *big.Int) error
	TransferFrom(spender, owner, to types.Address, amount *big.Int) error
	Approve(owner, spender types.Address, amount *big.Int) error
	Allowance(owner, spender types.Address) *big.Int
	BalanceOf(addr types.Address) *big.Int
}

// InMemory is a process-local Ledger used by the standalone daemon and by
// tests. All methods are safe for concurrent use.
type InMemory struct {
	mu         sync.Mutex
	balances   map[types.Address]*big.Int
	allowances map[types.Address]map[types.Address]*big.Int
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances:   make(map[types.Address]*big.Int),
		allowances: make(map[types.Address]map[types.Address]*big.Int),
	}
}

// Mint credits addr with amount out of thin air.
func (l *InMemory) Mint(addr types.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

// Transfer moves amount from one account to another.
func (l *InMemory) Transfer(from, to types.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// debiting spender's allowance from owner.
func (l *InMemory) TransferFrom(spender, owner, to types.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s < %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

// Approve sets spender's allowance from owner to amount, overwriting any
// previous value.
func (l *InMemory) Approve(owner, spender types.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[types.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns spender's remaining allowance from owner.
func (l *InMemory) Allowance(owner, spender types.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(owner, spender))
}

// BalanceOf returns the balance of addr.
func (l *InMemory) BalanceOf(addr types.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// move debits from and credits to. Caller holds the lock.
func (l *InMemory) move(from, to types.Address, amount *big.Int) error {
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, bal, amount)
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *InMemory) credit(addr types.Address, amount *big.Int) {
	if b, ok := l.balances[addr]; ok {
		l.balances[addr] = new(big.Int).Add(b, amount)
	} else {
		l.balances[addr] = new(big.Int).Set(amount)
	}
}

func (l *InMemory) allowance(owner, spender types.Address) *big.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}
