package stake

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
)

var (
	// ErrUnknownArbiter is returned for an arbiter id that was never allocated.
	ErrUnknownArbiter = errors.New("unknown arbiter")

	// ErrInvalidState is returned when an admission transition is not legal
	// for the arbiter's current state.
	ErrInvalidState = errors.New("invalid arbiter state")

	// ErrStakeTooLow is returned when a stake deposit or mining stake is
	// below the configured minimum.
	ErrStakeTooLow = errors.New("stake below minimum")

	// ErrNotMining is returned by StopMining when the arbiter holds no
	// queue position.
	ErrNotMining = errors.New("arbiter is not mining")

	// ErrAlreadyMining is returned by StartMining when the arbiter already
	// holds a queue position.
	ErrAlreadyMining = errors.New("arbiter is already mining")
)

// Ledger tracks arbiter candidates, their locked stake, and the mining
// queue. It is not safe for concurrent use on its own: the arbitration
// engine serializes every call, matching the substrate's one-call-at-a-time
// execution model.
type Ledger struct {
	tok      token.Ledger
	custody  types.Address
	minStake *big.Int
	log      *zap.Logger

	arbiters map[uint64]*types.Arbiter
	byAddr   map[types.Address]uint64
	nextID   uint64
	queue    *Queue
}

// NewLedger creates an empty stake ledger. Stake deposits are pulled into
// custody via the token ledger's allowance mechanism.
func NewLedger(tok token.Ledger, custody types.Address, minStake *big.Int, log *zap.Logger) *Ledger {
	return &Ledger{
		tok:      tok,
		custody:  custody,
		minStake: minStake,
		log:      log,
		arbiters: make(map[uint64]*types.Arbiter),
		byAddr:   make(map[types.Address]uint64),
		nextID:   1, // id 0 is the sentinel
		queue:    NewQueue(),
	}
}

// Register locks amount of addr's tokens as arbitration stake, creating the
// arbiter record in Pending on first contact. The caller must have approved
// the engine for at least amount.
func (l *Ledger) Register(addr types.Address, amount *big.Int) (uint64, error) {
	if amount.Cmp(l.minStake) < 0 {
		return 0, fmt.Errorf("%w: %s < %s", ErrStakeTooLow, amount, l.minStake)
	}
	if err := l.tok.TransferFrom(l.custody, addr, l.custody, amount); err != nil {
		return 0, err
	}
	a := l.ensure(addr)
	a.Stake = new(big.Int).Add(a.Stake, amount)
	l.log.Info("stake registered",
		zap.Uint64("arbiter", a.ID),
		zap.String("addr", string(addr)),
		zap.String("stake", a.Stake.String()))
	return a.ID, nil
}

// Approve transitions a Pending arbiter to Approved. Operator authorization
// is checked by the engine before this is reached.
func (l *Ledger) Approve(id uint64) error {
	a, ok := l.arbiters[id]
	if !ok {
		return ErrUnknownArbiter
	}
	if a.State != types.ArbiterPending {
		return fmt.Errorf("%w: %s", ErrInvalidState, a.State)
	}
	a.State = types.ArbiterApproved
	l.log.Info("arbiter approved", zap.Uint64("arbiter", id))
	return nil
}

// Ban marks an arbiter Banned, removes it from the queue if present, and
// forfeits its locked stake. Banned arbiters never re-enter the queue.
func (l *Ledger) Ban(id uint64) error {
	a, ok := l.arbiters[id]
	if !ok {
		return ErrUnknownArbiter
	}
	a.State = types.ArbiterBanned
	if a.QueuePos != 0 {
		l.queue.Remove(a.QueuePos)
		a.QueuePos = 0
	}
	// No refund. The forfeited stake stays in custody and drops out of the
	// promised-funds sum, becoming sweepable protocol revenue.
	forfeited := a.Stake
	a.Stake = new(big.Int)
	l.log.Warn("arbiter banned",
		zap.Uint64("arbiter", id),
		zap.String("forfeited", forfeited.String()))
	return nil
}

// StartMining enqueues an Approved arbiter, refreshing its locked stake up
// to amount (top-ups pull only the difference). For an unknown address it
// registers a Pending record and returns nil; for Pending or Banned arbiters
// it is a silent no-op. Scripted wallets call this optimistically, so
// ineligibility is deliberately not an error.
func (l *Ledger) StartMining(addr types.Address, amount *big.Int) error {
	a, ok := l.lookup(addr)
	if !ok {
		a = l.ensure(addr)
		l.log.Info("arbiter registered via start_mining",
			zap.Uint64("arbiter", a.ID), zap.String("addr", string(addr)))
		return nil
	}
	if a.State != types.ArbiterApproved {
		return nil
	}
	if a.QueuePos != 0 {
		return ErrAlreadyMining
	}
	if amount.Cmp(l.minStake) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrStakeTooLow, amount, l.minStake)
	}
	if need := new(big.Int).Sub(amount, a.Stake); need.Sign() > 0 {
		if err := l.tok.TransferFrom(l.custody, addr, l.custody, need); err != nil {
			return err
		}
		a.Stake = new(big.Int).Set(amount)
	}
	a.QueuePos = l.queue.Enqueue(a.ID)
	l.log.Info("arbiter mining",
		zap.Uint64("arbiter", a.ID),
		zap.Uint64("pos", a.QueuePos),
		zap.String("stake", a.Stake.String()))
	return nil
}

// StopMining vacates the arbiter's queue position and returns its locked
// stake. The arbiter stays Approved and may re-enqueue later.
func (l *Ledger) StopMining(addr types.Address) error {
	a, ok := l.lookup(addr)
	if !ok || a.QueuePos == 0 {
		return ErrNotMining
	}
	l.queue.Remove(a.QueuePos)
	a.QueuePos = 0
	if a.Stake.Sign() > 0 {
		if err := l.tok.Transfer(l.custody, addr, a.Stake); err != nil {
			return fmt.Errorf("return stake: %w", err)
		}
	}
	a.Stake = new(big.Int)
	l.log.Info("arbiter stopped mining", zap.Uint64("arbiter", a.ID))
	return nil
}

// Draw removes up to n arbiters from the front of the queue and returns
// them. Drawn arbiters keep their stake locked (it backs their vote
// obligation) but lose their queue position, so they cannot be drawn into a
// second concurrent panel.
func (l *Ledger) Draw(n int) []*types.Arbiter {
	ids := l.queue.Front(n)
	drawn := make([]*types.Arbiter, 0, len(ids))
	for _, id := range ids {
		a := l.arbiters[id]
		l.queue.Remove(a.QueuePos)
		a.QueuePos = 0
		drawn = append(drawn, a)
	}
	return drawn
}

// Slash forfeits num/den of the arbiter's locked stake and returns the rest
// to the arbiter. The penalty stays in custody; the returned amount is the
// penalty taken. Dequeues the arbiter if it somehow still holds a position.
func (l *Ledger) Slash(id uint64, num, den int64) (*big.Int, error) {
	a, ok := l.arbiters[id]
	if !ok {
		return nil, ErrUnknownArbiter
	}
	if a.QueuePos != 0 {
		l.queue.Remove(a.QueuePos)
		a.QueuePos = 0
	}
	penalty := new(big.Int).Mul(a.Stake, big.NewInt(num))
	if den > 0 {
		penalty.Div(penalty, big.NewInt(den))
	}
	if penalty.Cmp(a.Stake) > 0 {
		penalty.Set(a.Stake)
	}
	remainder := new(big.Int).Sub(a.Stake, penalty)
	if remainder.Sign() > 0 {
		if err := l.tok.Transfer(l.custody, a.Addr, remainder); err != nil {
			return nil, fmt.Errorf("return stake remainder: %w", err)
		}
	}
	a.Stake = new(big.Int)
	l.log.Warn("arbiter slashed",
		zap.Uint64("arbiter", id),
		zap.String("penalty", penalty.String()))
	return penalty, nil
}

// TotalLocked returns the sum of all locked stakes. Recomputed from live
// records on every call; the admin fund-recovery guard depends on this never
// being cached.
func (l *Ledger) TotalLocked() *big.Int {
	total := new(big.Int)
	for _, a := range l.arbiters {
		total.Add(total, a.Stake)
	}
	return total
}

// Get returns the arbiter with the given id.
func (l *Ledger) Get(id uint64) (*types.Arbiter, bool) {
	a, ok := l.arbiters[id]
	return a, ok
}

// GetByAddr returns the arbiter registered under addr.
func (l *Ledger) GetByAddr(addr types.Address) (*types.Arbiter, bool) {
	return l.lookup(addr)
}

// QueueLen returns the number of currently-mining arbiters.
func (l *Ledger) QueueLen() int {
	return l.queue.Len()
}

// All returns every arbiter record in id order.
func (l *Ledger) All() []*types.Arbiter {
	out := make([]*types.Arbiter, 0, len(l.arbiters))
	for _, a := range l.arbiters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore rebuilds the ledger from persisted arbiter records. The queue is
// reconstructed from each record's stored position.
func (l *Ledger) Restore(arbiters []*types.Arbiter) {
	for _, a := range arbiters {
		l.arbiters[a.ID] = a
		l.byAddr[a.Addr] = a.ID
		if a.ID >= l.nextID {
			l.nextID = a.ID + 1
		}
		if a.QueuePos != 0 {
			l.queue.restore(a.QueuePos, a.ID)
		}
	}
}

func (l *Ledger) lookup(addr types.Address) (*types.Arbiter, bool) {
	id, ok := l.byAddr[addr]
	if !ok {
		return nil, false
	}
	return l.arbiters[id], true
}

func (l *Ledger) ensure(addr types.Address) *types.Arbiter {
	if a, ok := l.lookup(addr); ok {
		return a
	}
	a := &types.Arbiter{
		ID:    l.nextID,
		Addr:  addr,
		State: types.ArbiterPending,
		Stake: new(big.Int),
	}
	l.nextID++
	l.arbiters[a.ID] = a
	l.byAddr[addr] = a.ID
	return a
}
