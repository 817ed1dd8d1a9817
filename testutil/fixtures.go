package testutil

import (
	"math/big"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/types"
)

// SampleArbiter returns an approved, queued arbiter record.
func SampleArbiter(id uint64, addr string) *types.Arbiter {
	return &types.Arbiter{
		ID:       id,
		Addr:     types.Address(addr),
		State:    types.ArbiterApproved,
		Stake:    big.NewInt(200),
		QueuePos: id,
	}
}

// SampleJob returns a mid-vote job with panel deadlines anchored at t=1000.
func SampleJob(id uint64) *types.Job {
	return &types.Job{
		ID:             id,
		PaymentID:      "pay-1",
		RequestedAt:    1000,
		MinVoteTime:    1100,
		MaxVoteTime:    1200,
		AppealDeadline: 1300,
		FeePaidIn:      big.NewInt(1000),
		RemainingFee:   big.NewInt(810),
		DisputeAmount:  big.NewInt(20_000),
		Host:           "host",
		Guest:          "guest",
		State:          types.JobVotingOpen,
	}
}

// SampleSnapshot returns engine state mid-dispute: one open job, a cast vote,
// an unassigned slot, one queued arbiter and one banned one. Exercises every
// record shape the store has to round-trip.
func SampleSnapshot() *arbitration.Snapshot {
	return &arbitration.Snapshot{
		Active:    true,
		Operator:  "operator",
		Whitelist: []types.Address{"escrow"},
		Arbiters: []*types.Arbiter{
			{ID: 1, Addr: "m1", State: types.ArbiterApproved, Stake: big.NewInt(200), QueuePos: 3},
			{ID: 2, Addr: "m2", State: types.ArbiterBanned, Stake: big.NewInt(0)},
		},
		Jobs: []*types.Job{SampleJob(1)},
		Votes: []*types.Vote{
			{ID: 1, JobID: 1, ArbiterID: 1, State: types.VoteComplete, Value: 2},
			{ID: 2, JobID: 1, State: types.VoteUnassigned},
		},
		InProgress: []uint64{1},
	}
}
