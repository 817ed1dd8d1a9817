package arbitration

import (
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/metrics"
	"github.com/beenest/arbiterd/internal/types"
)

// OpenDispute creates an arbitration job for an escrowed payment. Only
// whitelisted escrow addresses may call it; the engine pulls the disputed
// amount plus the dispute fee from the caller's pre-granted allowance into
// custody. The job starts Requested with its full vote-panel worth of
// unassigned slots already allocated.
func (e *Engine) OpenDispute(caller types.Address, paymentID string, host, guest types.Address, disputeAmount *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return 0, ErrInactive
	}
	if !e.whitelist[caller] {
		return 0, ErrUnauthorized
	}
	if disputeAmount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: non-positive dispute amount", ErrInvalidState)
	}

	total := new(big.Int).Add(disputeAmount, e.cfg.DisputeFee)
	if err := e.tok.TransferFrom(e.cfg.Custody, caller, e.cfg.Custody, total); err != nil {
		return 0, err
	}

	job := e.newJob(0, paymentID, host, guest, disputeAmount, e.cfg.DisputeFee)
	e.inProgress = append(e.inProgress, job.ID)

	metrics.DisputesOpened.Inc()
	metrics.JobsInProgress.Set(float64(len(e.inProgress)))
	e.updateCustodyGauge()
	e.log.Info("dispute opened",
		zap.Uint64("job", job.ID),
		zap.String("payment", paymentID),
		zap.String("amount", disputeAmount.String()))
	return job.ID, nil
}

// newJob allocates a job and its panel of unassigned vote slots. Caller
// holds the lock.
func (e *Engine) newJob(parentID uint64, paymentID string, host, guest types.Address, disputeAmount, fee *big.Int) *types.Job {
	now := e.now()
	job := &types.Job{
		ID:            e.nextJobID,
		ParentID:      parentID,
		PaymentID:     paymentID,
		RequestedAt:   now,
		MinVoteTime:   now + e.cfg.MinVoteDelay,
		MaxVoteTime:   now + e.cfg.MinVoteDelay + e.cfg.VoteWindow,
		FeePaidIn:     new(big.Int).Set(fee),
		RemainingFee:  new(big.Int).Set(fee),
		DisputeAmount: new(big.Int).Set(disputeAmount),
		Host:          host,
		Guest:         guest,
		State:         types.JobRequested,
	}
	job.AppealDeadline = job.MaxVoteTime + e.cfg.AppealWindow
	e.nextJobID++
	e.jobs[job.ID] = job

	for i := 0; i < e.cfg.PanelSize; i++ {
		e.newVote(job.ID)
	}
	return job
}

// newVote allocates an unassigned vote slot for a job. Caller holds the lock.
func (e *Engine) newVote(jobID uint64) *types.Vote {
	v := &types.Vote{
		ID:    e.nextVoteID,
		JobID: jobID,
		State: types.VoteUnassigned,
	}
	e.nextVoteID++
	e.votes[v.ID] = v
	e.votesByJob[jobID] = append(e.votesByJob[jobID], v.ID)
	return v
}

// NextRequiredJob returns the lowest-id unresolved job with a transition due
// at the engine's current time, or 0 when nothing needs triggering. Pure
// read; triggermen poll it to discover paid work.
func (e *Engine) NextRequiredJob() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best uint64
	for _, id := range e.inProgress {
		if !e.transitionDue(e.jobs[id]) {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

// transitionDue reports whether Advance would succeed for the job right now.
// Caller holds the lock.
func (e *Engine) transitionDue(j *types.Job) bool {
	now := e.now()
	switch j.State {
	case types.JobRequested:
		// The panel draw needs enough queued arbiters to fill every open
		// slot; until then the job is not ready and triggering it would
		// waste the caller's money.
		return now >= j.MinVoteTime && e.openSlotCount(j.ID) <= e.stakes.QueueLen()
	case types.JobVotingOpen:
		return now >= j.MaxVoteTime
	case types.JobAwaitingAppeal:
		return now >= j.AppealDeadline
	}
	return false
}

func (e *Engine) openSlotCount(jobID uint64) int {
	n := 0
	for _, vid := range e.votesByJob[jobID] {
		if e.votes[vid].State == types.VoteUnassigned {
			n++
		}
	}
	return n
}

// Advance executes the single transition legal for the job's state and the
// elapsed time, and pays the caller a slice of the job's remaining fee for
// the service. Racing callers lose with ErrNotDue; the transition happens
// exactly once.
func (e *Engine) Advance(caller types.Address, jobID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrInactive
	}
	j, ok := e.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if !e.transitionDue(j) {
		return ErrNotDue
	}

	var transition string
	switch j.State {
	case types.JobRequested:
		e.openVoting(j)
		transition = "voting_open"
	case types.JobVotingOpen:
		if e.pendingSlotCount(j.ID) == 0 {
			if e.cfg.AppealWindow == 0 {
				e.settle(j)
				transition = "resolved"
			} else {
				j.State = types.JobAwaitingAppeal
				transition = "awaiting_appeal"
			}
		} else {
			e.requeue(j)
			transition = "requeued"
		}
	case types.JobAwaitingAppeal:
		e.settle(j)
		transition = "resolved"
	}

	e.payTriggerman(j, caller)
	metrics.Advances.WithLabelValues(transition).Inc()
	metrics.JobsInProgress.Set(float64(len(e.inProgress)))
	metrics.QueueDepth.Set(float64(e.stakes.QueueLen()))
	e.updateCustodyGauge()
	e.log.Info("job advanced",
		zap.Uint64("job", j.ID),
		zap.String("transition", transition),
		zap.String("triggerman", string(caller)))
	return nil
}

// openVoting binds every unassigned slot to an arbiter drawn from the queue
// and opens the voting window. transitionDue guaranteed the queue can cover
// the panel. Caller holds the lock.
func (e *Engine) openVoting(j *types.Job) {
	open := e.openSlots(j.ID)
	drawn := e.stakes.Draw(len(open))
	for i, v := range open {
		v.ArbiterID = drawn[i].ID
		v.State = types.VotePending
	}
	j.State = types.JobVotingOpen
}

// requeue fires the non-voter penalty: every still-pending slot's arbiter is
// slashed and dequeued, the slot is abandoned, and a replacement slot is
// allocated (bound immediately when queue occupancy allows). The job drops
// back to Requested with fresh deadlines and no payouts to anyone else.
// Caller holds the lock.
func (e *Engine) requeue(j *types.Job) {
	for _, vid := range e.votesByJob[j.ID] {
		v := e.votes[vid]
		if v.State != types.VotePending {
			continue
		}
		if _, err := e.stakes.Slash(v.ArbiterID, e.cfg.SlashNum, e.cfg.SlashDen); err != nil {
			// Arena ids bound to votes always resolve; log and keep the
			// panel consistent regardless.
			e.log.Error("slash failed", zap.Uint64("arbiter", v.ArbiterID), zap.Error(err))
		}
		metrics.ArbitersSlashed.Inc()
		v.State = types.VoteAbandoned
		e.newVote(j.ID)
		e.log.Warn("non-voter slashed",
			zap.Uint64("job", j.ID),
			zap.Uint64("arbiter", v.ArbiterID),
			zap.Uint64("vote", v.ID))
	}

	// Bind as many replacement slots as the queue can cover right away;
	// anything left unassigned is bound by the next panel-draw trigger.
	open := e.openSlots(j.ID)
	drawn := e.stakes.Draw(len(open))
	for i, a := range drawn {
		open[i].ArbiterID = a.ID
		open[i].State = types.VotePending
	}

	now := e.now()
	j.RequestedAt = now
	j.MinVoteTime = now + e.cfg.MinVoteDelay
	j.MaxVoteTime = j.MinVoteTime + e.cfg.VoteWindow
	j.AppealDeadline = j.MaxVoteTime + e.cfg.AppealWindow
	j.State = types.JobRequested
}

// settle computes the ruling from completed votes, disburses the dispute
// amount to host and guest, pays each voter from the fee pool, and resolves
// the job. Runs exactly once per job: the state flip to Resolved happens in
// the same atomic step as the transfers.
func (e *Engine) settle(j *types.Job) {
	votes := e.completedVotes(j.ID)
	values := make([]uint8, len(votes))
	for i, v := range votes {
		values[i] = v.Value
	}

	host, guest := e.cfg.Policy.Split(j.DisputeAmount, values)
	if host.Sign() > 0 {
		if err := e.tok.Transfer(e.cfg.Custody, j.Host, host); err != nil {
			e.log.Error("host payout failed", zap.Uint64("job", j.ID), zap.Error(err))
		}
	}
	if guest.Sign() > 0 {
		if err := e.tok.Transfer(e.cfg.Custody, j.Guest, guest); err != nil {
			e.log.Error("guest payout failed", zap.Uint64("job", j.ID), zap.Error(err))
		}
	}

	e.payVoters(j, votes)

	j.State = types.JobResolved
	e.removeInProgress(j.ID)
	e.log.Info("job resolved",
		zap.Uint64("job", j.ID),
		zap.String("host_share", host.String()),
		zap.String("guest_share", guest.String()),
		zap.Int("votes", len(values)))
}

// payVoters pays the per-vote reward to each completed vote's arbiter out of
// the job's remaining fee, in vote-id order until the pool runs dry.
func (e *Engine) payVoters(j *types.Job, votes []*types.Vote) {
	for _, v := range votes {
		reward := e.cfg.Policy.VoterPay(j.RemainingFee)
		if reward.Sign() <= 0 {
			break
		}
		a, ok := e.stakes.Get(v.ArbiterID)
		if !ok {
			continue
		}
		if err := e.tok.Transfer(e.cfg.Custody, a.Addr, reward); err != nil {
			e.log.Error("voter payout failed", zap.Uint64("vote", v.ID), zap.Error(err))
			continue
		}
		j.RemainingFee.Sub(j.RemainingFee, reward)
	}
}

// payTriggerman pays the caller its advance cut and shrinks the fee pool.
func (e *Engine) payTriggerman(j *types.Job, caller types.Address) {
	cut := e.cfg.Policy.TriggerPay(j.RemainingFee)
	if cut.Sign() <= 0 {
		return
	}
	if err := e.tok.Transfer(e.cfg.Custody, caller, cut); err != nil {
		e.log.Error("triggerman payout failed", zap.Uint64("job", j.ID), zap.Error(err))
		return
	}
	j.RemainingFee.Sub(j.RemainingFee, cut)
	metrics.TriggerPayouts.Inc()
}

// openSlots returns the job's unassigned vote slots in id order.
func (e *Engine) openSlots(jobID uint64) []*types.Vote {
	var out []*types.Vote
	for _, vid := range e.votesByJob[jobID] {
		if v := e.votes[vid]; v.State == types.VoteUnassigned {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// completedVotes returns the job's completed votes in id order.
func (e *Engine) completedVotes(jobID uint64) []*types.Vote {
	var out []*types.Vote
	for _, vid := range e.votesByJob[jobID] {
		if v := e.votes[vid]; v.State == types.VoteComplete {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (e *Engine) pendingSlotCount(jobID uint64) int {
	n := 0
	for _, vid := range e.votesByJob[jobID] {
		s := e.votes[vid].State
		if s == types.VotePending || s == types.VoteUnassigned {
			n++
		}
	}
	return n
}

func (e *Engine) removeInProgress(jobID uint64) {
	for i, id := range e.inProgress {
		if id == jobID {
			e.inProgress = append(e.inProgress[:i], e.inProgress[i+1:]...)
			return
		}
	}
}

// JobByID returns a copy of the job record.
func (e *Engine) JobByID(id uint64) (types.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return types.Job{}, ErrUnknownJob
	}
	return copyJob(j), nil
}

// InProgress returns the current in-progress job index.
func (e *Engine) InProgress() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.inProgress))
	copy(out, e.inProgress)
	return out
}

func copyJob(j *types.Job) types.Job {
	out := *j
	out.FeePaidIn = new(big.Int).Set(j.FeePaidIn)
	out.RemainingFee = new(big.Int).Set(j.RemainingFee)
	out.DisputeAmount = new(big.Int).Set(j.DisputeAmount)
	return out
}
