package ruling

import "math/big"

// Policy maps completed votes to a host/guest split and prices the liveness
// work around a job. The vote scale is deliberately configurable: the split
// formula is protocol policy, not engine mechanics, and the engine only
// relies on the conservation guarantees below.
type Policy struct {
	// MaxVoteValue is the top of the accepted vote range [0, MaxVoteValue].
	// A vote of MaxVoteValue awards the full disputed amount to the host.
	MaxVoteValue uint8

	// VoteReward is the flat per-vote payment to each arbiter whose vote is
	// Complete when the job settles (or is appealed).
	VoteReward *big.Int

	// TriggerCutNum/TriggerCutDen set the slice of a job's remaining fee
	// paid to the caller of each successful advance.
	TriggerCutNum int64
	TriggerCutDen int64
}

// Default returns the production policy: votes 0..4 (each unit worth 25% of
// the dispute to the host), averaged over the panel.
func Default() Policy {
	return Policy{
		MaxVoteValue:  4,
		VoteReward:    big.NewInt(1_000_000),
		TriggerCutNum: 1,
		TriggerCutDen: 10,
	}
}

// Split computes the host and guest shares of disputeAmount from the
// completed votes. The host share is
//
//	disputeAmount * sum(votes) / (MaxVoteValue * len(votes))
//
// rounded down; the guest receives the exact remainder, so
// host + guest == disputeAmount always. Votes {0,0,0,1,1} on the 0..4 scale
// give the host 2/20 = 10% and the guest 90%.
func (p Policy) Split(disputeAmount *big.Int, votes []uint8) (host, guest *big.Int) {
	host = new(big.Int)
	guest = new(big.Int).Set(disputeAmount)
	if len(votes) == 0 || p.MaxVoteValue == 0 || disputeAmount.Sign() <= 0 {
		return host, guest
	}

	var sum int64
	for _, v := range votes {
		sum += int64(v)
	}
	if sum == 0 {
		return host, guest
	}

	denom := int64(p.MaxVoteValue) * int64(len(votes))
	host.Mul(disputeAmount, big.NewInt(sum))
	host.Div(host, big.NewInt(denom))
	guest.Sub(disputeAmount, host)
	return host, guest
}

// TriggerPay returns the triggerman payment for one advance given the job's
// remaining fee: the configured cut rounded down, at least 1 while any fee
// remains, and never more than the fee itself. Calling in is always worth
// something until the pool is empty, otherwise the tail of a job's lifecycle
// would go unpaid and stall.
func (p Policy) TriggerPay(remainingFee *big.Int) *big.Int {
	if remainingFee.Sign() <= 0 || p.TriggerCutDen <= 0 {
		return new(big.Int)
	}
	cut := new(big.Int).Mul(remainingFee, big.NewInt(p.TriggerCutNum))
	cut.Div(cut, big.NewInt(p.TriggerCutDen))
	if cut.Sign() <= 0 {
		cut.SetInt64(1)
	}
	if cut.Cmp(remainingFee) > 0 {
		cut.Set(remainingFee)
	}
	return cut
}

// VoterPay returns the reward for one completed vote, capped at what is left
// in the fee pool.
func (p Policy) VoterPay(remainingFee *big.Int) *big.Int {
	if remainingFee.Sign() <= 0 || p.VoteReward == nil || p.VoteReward.Sign() <= 0 {
		return new(big.Int)
	}
	if p.VoteReward.Cmp(remainingFee) > 0 {
		return new(big.Int).Set(remainingFee)
	}
	return new(big.Int).Set(p.VoteReward)
}
