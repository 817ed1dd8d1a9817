package types

import "math/big"

// Address identifies an external account. The execution substrate
// authenticates callers; the engine treats addresses as opaque strings.
type Address string

// ArbiterState is the admission state of an arbiter candidate.
type ArbiterState uint8

const (
	ArbiterPending ArbiterState = iota
	ArbiterApproved
	ArbiterBanned
)

func (s ArbiterState) String() string {
	switch s {
	case ArbiterPending:
		return "pending"
	case ArbiterApproved:
		return "approved"
	case ArbiterBanned:
		return "banned"
	}
	return "unknown"
}

// JobState is the lifecycle state of an arbitration job.
type JobState uint8

const (
	JobRequested JobState = iota
	JobVotingOpen
	JobAwaitingAppeal
	JobResolved
)

func (s JobState) String() string {
	switch s {
	case JobRequested:
		return "requested"
	case JobVotingOpen:
		return "voting_open"
	case JobAwaitingAppeal:
		return "awaiting_appeal"
	case JobResolved:
		return "resolved"
	}
	return "unknown"
}

// VoteState is the lifecycle state of a single vote slot.
type VoteState uint8

const (
	VoteUnassigned VoteState = iota
	VotePending
	VoteComplete

	// VoteAbandoned marks a slot whose arbiter was slashed for not voting.
	// Abandoned slots are kept for accountability but never count toward
	// panel completeness or the ruling.
	VoteAbandoned
)

func (s VoteState) String() string {
	switch s {
	case VoteUnassigned:
		return "unassigned"
	case VotePending:
		return "pending"
	case VoteComplete:
		return "complete"
	case VoteAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Arbiter is a staked arbitration miner. Records are arena-allocated with
// 1-based ids; id 0 is the "no arbiter" sentinel. Records are never deleted,
// even for banned arbiters.
type Arbiter struct {
	ID    uint64       `json:"id"`
	Addr  Address      `json:"addr"`
	State ArbiterState `json:"state"`

	// Stake is the amount currently locked by the engine. It stays locked
	// while the arbiter sits on a vote panel, so Stake > 0 does not imply
	// QueuePos > 0: a drawn arbiter has stake at risk but no queue slot.
	Stake *big.Int `json:"stake"`

	// QueuePos is the arbiter's mining queue position, 0 when not queued.
	// Positions are stable handles: they grow monotonically and vacated
	// positions are never reused.
	QueuePos uint64 `json:"queue_pos"`
}

// Mining reports whether the arbiter currently holds a queue position.
func (a *Arbiter) Mining() bool {
	return a.QueuePos != 0
}

// Job is one arbitration case: an original dispute or an appeal of a prior
// job. All timestamps are unix seconds evaluated against the caller-supplied
// clock; nothing inside the engine ticks on its own.
type Job struct {
	ID       uint64 `json:"id"`
	ParentID uint64 `json:"parent_id"` // 0 for an original dispute
	// PaymentID is the opaque correlation handle supplied by the escrow
	// contract that opened the dispute. Appeals inherit it from the parent.
	PaymentID string `json:"payment_id"`

	RequestedAt    int64 `json:"requested_at"`
	MinVoteTime    int64 `json:"min_vote_time"`
	MaxVoteTime    int64 `json:"max_vote_time"`
	AppealDeadline int64 `json:"appeal_deadline"`

	// FeePaidIn is the fee deposited when the job was opened; RemainingFee
	// is what is left of it after triggerman and voter payouts.
	// 0 <= RemainingFee <= FeePaidIn always.
	FeePaidIn     *big.Int `json:"fee_paid_in"`
	RemainingFee  *big.Int `json:"remaining_fee"`
	DisputeAmount *big.Int `json:"dispute_amount"`

	Host  Address  `json:"host"`
	Guest Address  `json:"guest"`
	State JobState `json:"state"`
}

// Vote is one (job, panel slot) record. Slots are created Unassigned when the
// job opens, bound to an arbiter when the panel is drawn, and completed on the
// first successful cast.
type Vote struct {
	ID        uint64    `json:"id"`
	JobID     uint64    `json:"job_id"`
	ArbiterID uint64    `json:"arbiter_id"` // 0 until assigned
	State     VoteState `json:"state"`
	Value     uint8     `json:"value"`
}
