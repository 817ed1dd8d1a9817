package arbitration

import (
	"sort"

	"github.com/beenest/arbiterd/internal/types"
)

// Snapshot is the engine's full durable state: the three arenas, the
// in-progress index, and the admin flags. The mining queue is not stored
// separately — it is implied by each arbiter's queue position.
type Snapshot struct {
	Active     bool
	Operator   types.Address
	Whitelist  []types.Address
	Arbiters   []*types.Arbiter
	Jobs       []*types.Job
	Votes      []*types.Vote
	InProgress []uint64
}

// Snapshot captures the engine state for persistence. Records are copied;
// the snapshot does not alias live state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &Snapshot{
		Active:     e.active,
		Operator:   e.cfg.Operator,
		InProgress: make([]uint64, len(e.inProgress)),
	}
	copy(s.InProgress, e.inProgress)

	for addr := range e.whitelist {
		s.Whitelist = append(s.Whitelist, addr)
	}
	sort.Slice(s.Whitelist, func(i, j int) bool { return s.Whitelist[i] < s.Whitelist[j] })

	for _, a := range e.stakes.All() {
		ac := copyArbiter(a)
		s.Arbiters = append(s.Arbiters, &ac)
	}

	jobIDs := make([]uint64, 0, len(e.jobs))
	for id := range e.jobs {
		jobIDs = append(jobIDs, id)
	}
	sort.Slice(jobIDs, func(i, j int) bool { return jobIDs[i] < jobIDs[j] })
	for _, id := range jobIDs {
		jc := copyJob(e.jobs[id])
		s.Jobs = append(s.Jobs, &jc)
	}

	voteIDs := make([]uint64, 0, len(e.votes))
	for id := range e.votes {
		voteIDs = append(voteIDs, id)
	}
	sort.Slice(voteIDs, func(i, j int) bool { return voteIDs[i] < voteIDs[j] })
	for _, id := range voteIDs {
		vc := *e.votes[id]
		s.Votes = append(s.Votes, &vc)
	}
	return s
}

// Restore rebuilds the engine from a snapshot. Must be called before the
// engine serves traffic; it replaces all arena state.
func (e *Engine) Restore(s *Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = s.Active
	e.whitelist = make(map[types.Address]bool, len(s.Whitelist))
	for _, addr := range s.Whitelist {
		e.whitelist[addr] = true
	}

	e.stakes.Restore(s.Arbiters)

	e.jobs = make(map[uint64]*types.Job, len(s.Jobs))
	e.nextJobID = 1
	for _, j := range s.Jobs {
		e.jobs[j.ID] = j
		if j.ID >= e.nextJobID {
			e.nextJobID = j.ID + 1
		}
	}

	e.votes = make(map[uint64]*types.Vote, len(s.Votes))
	e.votesByJob = make(map[uint64][]uint64)
	e.nextVoteID = 1
	for _, v := range s.Votes {
		e.votes[v.ID] = v
		e.votesByJob[v.JobID] = append(e.votesByJob[v.JobID], v.ID)
		if v.ID >= e.nextVoteID {
			e.nextVoteID = v.ID + 1
		}
	}

	e.inProgress = make([]uint64, len(s.InProgress))
	copy(e.inProgress, s.InProgress)
}
