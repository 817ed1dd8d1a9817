package store

import "github.com/beenest/arbiterd/internal/types"

// On-disk record shapes. Kept separate from the engine types so the wire
// format can evolve without touching engine code.

type arbiterRec struct {
	ID       uint64 `cbor:"1,keyasint"`
	Addr     string `cbor:"2,keyasint"`
	State    uint8  `cbor:"3,keyasint"`
	Stake    []byte `cbor:"4,keyasint"` // big.Int bytes
	QueuePos uint64 `cbor:"5,keyasint"`
}

type jobRec struct {
	ID             uint64 `cbor:"1,keyasint"`
	ParentID       uint64 `cbor:"2,keyasint"`
	PaymentID      string `cbor:"3,keyasint"`
	RequestedAt    int64  `cbor:"4,keyasint"`
	MinVoteTime    int64  `cbor:"5,keyasint"`
	MaxVoteTime    int64  `cbor:"6,keyasint"`
	AppealDeadline int64  `cbor:"7,keyasint"`
	FeePaidIn      []byte `cbor:"8,keyasint"`
	RemainingFee   []byte `cbor:"9,keyasint"`
	DisputeAmount  []byte `cbor:"10,keyasint"`
	Host           string `cbor:"11,keyasint"`
	Guest          string `cbor:"12,keyasint"`
	State          uint8  `cbor:"13,keyasint"`
}

type voteRec struct {
	ID        uint64 `cbor:"1,keyasint"`
	JobID     uint64 `cbor:"2,keyasint"`
	ArbiterID uint64 `cbor:"3,keyasint"`
	State     uint8  `cbor:"4,keyasint"`
	Value     uint8  `cbor:"5,keyasint"`
}

type metaRec struct {
	Active     bool     `cbor:"1,keyasint"`
	Operator   string   `cbor:"2,keyasint"`
	Whitelist  []string `cbor:"3,keyasint"`
	InProgress []uint64 `cbor:"4,keyasint"`
}

func arbiterToRec(a *types.Arbiter) *arbiterRec {
	return &arbiterRec{
		ID:       a.ID,
		Addr:     string(a.Addr),
		State:    uint8(a.State),
		Stake:    bigBytes(a.Stake),
		QueuePos: a.QueuePos,
	}
}

func recToArbiter(r *arbiterRec) *types.Arbiter {
	return &types.Arbiter{
		ID:       r.ID,
		Addr:     types.Address(r.Addr),
		State:    types.ArbiterState(r.State),
		Stake:    bytesBig(r.Stake),
		QueuePos: r.QueuePos,
	}
}

func jobToRec(j *types.Job) *jobRec {
	return &jobRec{
		ID:             j.ID,
		ParentID:       j.ParentID,
		PaymentID:      j.PaymentID,
		RequestedAt:    j.RequestedAt,
		MinVoteTime:    j.MinVoteTime,
		MaxVoteTime:    j.MaxVoteTime,
		AppealDeadline: j.AppealDeadline,
		FeePaidIn:      bigBytes(j.FeePaidIn),
		RemainingFee:   bigBytes(j.RemainingFee),
		DisputeAmount:  bigBytes(j.DisputeAmount),
		Host:           string(j.Host),
		Guest:          string(j.Guest),
		State:          uint8(j.State),
	}
}

func recToJob(r *jobRec) *types.Job {
	return &types.Job{
		ID:             r.ID,
		ParentID:       r.ParentID,
		PaymentID:      r.PaymentID,
		RequestedAt:    r.RequestedAt,
		MinVoteTime:    r.MinVoteTime,
		MaxVoteTime:    r.MaxVoteTime,
		AppealDeadline: r.AppealDeadline,
		FeePaidIn:      bytesBig(r.FeePaidIn),
		RemainingFee:   bytesBig(r.RemainingFee),
		DisputeAmount:  bytesBig(r.DisputeAmount),
		Host:           types.Address(r.Host),
		Guest:          types.Address(r.Guest),
		State:          types.JobState(r.State),
	}
}

func voteToRec(v *types.Vote) *voteRec {
	return &voteRec{
		ID:        v.ID,
		JobID:     v.JobID,
		ArbiterID: v.ArbiterID,
		State:     uint8(v.State),
		Value:     v.Value,
	}
}

func recToVote(r *voteRec) *types.Vote {
	return &types.Vote{
		ID:        r.ID,
		JobID:     r.JobID,
		ArbiterID: r.ArbiterID,
		State:     types.VoteState(r.State),
		Value:     r.Value,
	}
}
