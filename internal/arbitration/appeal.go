package arbitration

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/metrics"
	"github.com/beenest/arbiterd/internal/types"
)

// RequestAppeal re-litigates an awaiting-appeal job as a new child job. The
// payer funds double the parent's fee through its allowance. The parent's
// completed voters are paid their reward immediately — appeal finalizes
// their work even though the ruling is superseded — but host and guest get
// nothing: the dispute amount rolls over into the child's escrow. The child
// takes the parent's slot in the in-progress index.
func (e *Engine) RequestAppeal(payer types.Address, jobID uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return 0, ErrInactive
	}
	parent, ok := e.jobs[jobID]
	if !ok {
		return 0, ErrUnknownJob
	}
	if parent.State != types.JobAwaitingAppeal || e.now() >= parent.AppealDeadline {
		return 0, fmt.Errorf("%w: job %d is %s", ErrInvalidState, jobID, parent.State)
	}

	appealFee := new(big.Int).Lsh(parent.FeePaidIn, 1) // double the parent's fee
	if err := e.tok.TransferFrom(e.cfg.Custody, payer, e.cfg.Custody, appealFee); err != nil {
		return 0, err
	}

	e.payVoters(parent, e.completedVotes(parent.ID))
	parent.State = types.JobResolved

	child := e.newJob(parent.ID, parent.PaymentID, parent.Host, parent.Guest, parent.DisputeAmount, appealFee)
	for i, id := range e.inProgress {
		if id == parent.ID {
			e.inProgress[i] = child.ID
			break
		}
	}

	metrics.AppealsRequested.Inc()
	e.updateCustodyGauge()
	e.log.Info("appeal requested",
		zap.Uint64("parent", parent.ID),
		zap.Uint64("child", child.ID),
		zap.String("payer", string(payer)),
		zap.String("fee", appealFee.String()))
	return child.ID, nil
}
