package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/metrics"
	"github.com/beenest/arbiterd/internal/ruling"
	"github.com/beenest/arbiterd/internal/stake"
	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required role
	// or whitelist entry.
	ErrUnauthorized = errors.New("unauthorized caller")

	// ErrInactive is returned for mutating calls before the operator has
	// activated the engine.
	ErrInactive = errors.New("engine not activated")

	// ErrInvalidState is returned when an operation is not legal for the
	// record's current state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrNotDue is returned by Advance when no transition is due for the
	// job, including when a racing triggerman already performed it.
	ErrNotDue = errors.New("no transition due")

	// ErrUnknownJob is returned for a job id that was never allocated.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownVote is returned for a vote id that was never allocated.
	ErrUnknownVote = errors.New("unknown vote")

	// ErrNotYourVote is returned when the caller is not the arbiter bound
	// to the vote.
	ErrNotYourVote = errors.New("vote not assigned to caller")

	// ErrVotingClosed is returned when the vote's job is not accepting
	// casts.
	ErrVotingClosed = errors.New("voting closed")

	// ErrInvalidVoteValue is returned for a cast outside the accepted
	// range.
	ErrInvalidVoteValue = errors.New("vote value out of range")

	// ErrFundsPromised is returned when an admin token sweep would cut
	// into locked stakes or open jobs' escrow.
	ErrFundsPromised = errors.New("amount exceeds unpromised funds")
)

// Config carries the engine's policy knobs. Durations are in seconds, like
// every timestamp the engine handles: the substrate has no finer clock.
type Config struct {
	Operator types.Address
	// Custody is the engine's own token account. Every deposit, stake and
	// payout moves through it.
	Custody types.Address

	MinStake   *big.Int
	DisputeFee *big.Int
	PanelSize  int

	// MinVoteDelay is the wait between a job's request and the panel draw.
	// VoteWindow is how long the panel has to vote; AppealWindow how long
	// the parties have to appeal afterwards. AppealWindow 0 disables the
	// appeal stage: the final vote trigger settles immediately.
	MinVoteDelay int64
	VoteWindow   int64
	AppealWindow int64

	// SlashNum/SlashDen of a non-voter's locked stake is forfeited.
	SlashNum int64
	SlashDen int64

	Policy ruling.Policy
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		MinStake:     big.NewInt(10_000_000),
		DisputeFee:   big.NewInt(50_000_000),
		PanelSize:    5,
		MinVoteDelay: 60 * 60,      // 1h for miners to queue up
		VoteWindow:   24 * 60 * 60, // 1 day to vote
		AppealWindow: 24 * 60 * 60, // 1 day to appeal
		SlashNum:     1,
		SlashDen:     1,
		Policy:       ruling.Default(),
	}
}

// Engine is the dispute-arbitration core: stake ledger, mining queue, job
// and vote arenas, and the trigger/advance state machine. One mutex
// serializes every call, mirroring the substrate's sequential execution;
// there is no internal parallelism and no internal timer — all liveness
// comes from external callers invoking Advance.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger
	tok token.Ledger

	// now supplies the current time for every deadline check. Injected so
	// tests can steer the clock; the engine itself never sleeps or ticks.
	now func() int64

	active    bool
	whitelist map[types.Address]bool

	stakes *stake.Ledger

	jobs       map[uint64]*types.Job
	votes      map[uint64]*types.Vote
	votesByJob map[uint64][]uint64
	nextJobID  uint64
	nextVoteID uint64

	// inProgress is the index of unresolved jobs. An appeal replaces the
	// parent's slot with the child in place; resolution removes the slot.
	inProgress []uint64
}

// New creates an inactive engine. The operator must call Activate before
// any dispute or mining traffic is accepted.
func New(cfg Config, tok token.Ledger, log *zap.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        log,
		tok:        tok,
		now:        func() int64 { return time.Now().Unix() },
		whitelist:  make(map[types.Address]bool),
		stakes:     stake.NewLedger(tok, cfg.Custody, cfg.MinStake, log),
		jobs:       make(map[uint64]*types.Job),
		votes:      make(map[uint64]*types.Vote),
		votesByJob: make(map[uint64][]uint64),
		nextJobID:  1, // id 0 is the sentinel
		nextVoteID: 1,
	}
}

// SetClock replaces the engine's time source. Tests drive deadlines with it.
func (e *Engine) SetClock(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Activate enables the engine. Operator-only, once.
func (e *Engine) Activate(caller types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}
	if e.active {
		return fmt.Errorf("%w: already active", ErrInvalidState)
	}
	e.active = true
	e.log.Info("engine activated")
	return nil
}

// Active reports whether the engine has been activated.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// WhitelistCaller authorizes an escrow contract address to open disputes.
func (e *Engine) WhitelistCaller(caller, addr types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}
	e.whitelist[addr] = true
	e.log.Info("caller whitelisted", zap.String("addr", string(addr)))
	return nil
}

// UnwhitelistCaller revokes an escrow contract's authorization.
func (e *Engine) UnwhitelistCaller(caller, addr types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}
	delete(e.whitelist, addr)
	e.log.Info("caller unwhitelisted", zap.String("addr", string(addr)))
	return nil
}

// Whitelisted reports whether addr may open disputes.
func (e *Engine) Whitelisted(addr types.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.whitelist[addr]
}

// RegisterStake locks amount of the caller's tokens as arbitration stake.
func (e *Engine) RegisterStake(caller types.Address, amount *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return 0, ErrInactive
	}
	id, err := e.stakes.Register(caller, amount)
	if err == nil {
		e.updateCustodyGauge()
	}
	return id, err
}

// ApproveArbiter admits a pending arbiter. Operator-only.
func (e *Engine) ApproveArbiter(caller types.Address, arbiterID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}
	return e.stakes.Approve(arbiterID)
}

// BanArbiter bans an arbiter, forfeiting its stake. Operator-only.
func (e *Engine) BanArbiter(caller types.Address, arbiterID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}
	if err := e.stakes.Ban(arbiterID); err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(e.stakes.QueueLen()))
	return nil
}

// StartMining enqueues the caller into the mining queue, locking stake up to
// amount. No-op for not-yet-approved or banned callers.
func (e *Engine) StartMining(caller types.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrInactive
	}
	if err := e.stakes.StartMining(caller, amount); err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(e.stakes.QueueLen()))
	e.updateCustodyGauge()
	return nil
}

// StopMining vacates the caller's queue position and returns its stake.
func (e *Engine) StopMining(caller types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrInactive
	}
	if err := e.stakes.StopMining(caller); err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(e.stakes.QueueLen()))
	e.updateCustodyGauge()
	return nil
}

// TransferToken is the operator's escape hatch for sweeping stray tokens out
// of custody. It fails whenever the sweep would cut into promised funds:
// locked stakes plus every unresolved job's dispute amount and fee pool. The
// sum is recomputed from live state on each call, never cached.
func (e *Engine) TransferToken(caller, to types.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Operator {
		return ErrUnauthorized
	}

	promised := e.stakes.TotalLocked()
	for _, j := range e.jobs {
		if j.State == types.JobResolved {
			continue
		}
		promised.Add(promised, j.DisputeAmount)
		promised.Add(promised, j.RemainingFee)
	}

	balance := e.tok.BalanceOf(e.cfg.Custody)
	left := new(big.Int).Sub(balance, amount)
	if left.Cmp(promised) < 0 {
		return fmt.Errorf("%w: balance %s, sweep %s, promised %s",
			ErrFundsPromised, balance, amount, promised)
	}
	if err := e.tok.Transfer(e.cfg.Custody, to, amount); err != nil {
		return err
	}
	e.log.Info("tokens swept",
		zap.String("to", string(to)),
		zap.String("amount", amount.String()))
	e.updateCustodyGauge()
	return nil
}

// ArbiterByID returns a copy of the arbiter record.
func (e *Engine) ArbiterByID(id uint64) (types.Arbiter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.stakes.Get(id)
	if !ok {
		return types.Arbiter{}, stake.ErrUnknownArbiter
	}
	return copyArbiter(a), nil
}

// ArbiterByAddr returns a copy of the arbiter record registered under addr.
func (e *Engine) ArbiterByAddr(addr types.Address) (types.Arbiter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.stakes.GetByAddr(addr)
	if !ok {
		return types.Arbiter{}, stake.ErrUnknownArbiter
	}
	return copyArbiter(a), nil
}

// QueueLen returns the mining queue occupancy.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stakes.QueueLen()
}

// updateCustodyGauge publishes a float approximation of the custody balance.
// Caller holds the lock.
func (e *Engine) updateCustodyGauge() {
	f, _ := new(big.Float).SetInt(e.tok.BalanceOf(e.cfg.Custody)).Float64()
	metrics.CustodyBalance.Set(f)
}

func copyArbiter(a *types.Arbiter) types.Arbiter {
	out := *a
	out.Stake = new(big.Int).Set(a.Stake)
	return out
}
