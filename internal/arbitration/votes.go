package arbitration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/metrics"
	"github.com/beenest/arbiterd/internal/types"
)

// CastVote records the caller's ruling on an assigned vote. Re-casting
// before the voting deadline overwrites the previous value; the record flips
// to Complete on the first successful cast and stays there.
func (e *Engine) CastVote(caller types.Address, voteID uint64, value uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrInactive
	}
	v, ok := e.votes[voteID]
	if !ok {
		return ErrUnknownVote
	}

	a, ok := e.stakes.Get(v.ArbiterID)
	if !ok || a.Addr != caller {
		return ErrNotYourVote
	}

	j := e.jobs[v.JobID]
	if v.State == types.VoteAbandoned || j.State != types.JobVotingOpen || e.now() >= j.MaxVoteTime {
		return ErrVotingClosed
	}

	if value > e.cfg.Policy.MaxVoteValue {
		return fmt.Errorf("%w: %d > %d", ErrInvalidVoteValue, value, e.cfg.Policy.MaxVoteValue)
	}

	v.Value = value
	v.State = types.VoteComplete
	metrics.VotesCast.Inc()
	e.log.Info("vote cast",
		zap.Uint64("vote", v.ID),
		zap.Uint64("job", v.JobID),
		zap.Uint64("arbiter", v.ArbiterID),
		zap.Uint8("value", value))
	return nil
}

// FirstIncompleteVote returns the lowest-id vote assigned to the caller and
// still awaiting a cast, or 0 when nothing is outstanding. Pure read;
// arbiter clients poll it for their work queue.
func (e *Engine) FirstIncompleteVote(caller types.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.stakes.GetByAddr(caller)
	if !ok {
		return 0
	}
	var best uint64
	for id, v := range e.votes {
		if v.ArbiterID != a.ID || v.State != types.VotePending {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

// VoteByID returns a copy of the vote record.
func (e *Engine) VoteByID(id uint64) (types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.votes[id]
	if !ok {
		return types.Vote{}, ErrUnknownVote
	}
	return *v, nil
}

// JobVotes returns copies of a job's vote records in id order.
func (e *Engine) JobVotes(jobID uint64) ([]types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[jobID]; !ok {
		return nil, ErrUnknownJob
	}
	ids := e.votesByJob[jobID]
	out := make([]types.Vote, 0, len(ids))
	for _, vid := range ids {
		out = append(out, *e.votes[vid])
	}
	return out, nil
}
