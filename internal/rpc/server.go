package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/stake"
	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
)

// Error codes surfaced to RPC clients.
const (
	codeBadRequest       = -1
	codeUnauthorized     = 1
	codeInactive         = 2
	codeInvalidState     = 3
	codeNotDue           = 4
	codeUnknownRecord    = 5
	codeNotYourVote      = 6
	codeVotingClosed     = 7
	codeInvalidVoteValue = 8
	codeStake            = 9
	codeAllowance        = 10
	codeFundsPromised    = 11
)

// requests per second each connection may issue before being throttled.
const (
	connRateLimit = 20
	connRateBurst = 40
)

// Server exposes the arbitration engine over newline-delimited JSON-RPC.
// Triggermen poll next_required_job and race advance through it; arbiters
// poll first_incomplete_vote and cast through it. Caller identity is the
// request's addr field — the substrate's authenticated sender, modeled
// directly.
type Server struct {
	eng *arbitration.Engine
	log *zap.Logger

	// snapshot, when set, runs after every successful mutating call so the
	// daemon can persist engine state.
	snapshot func()

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
}

// NewServer creates a server around the engine. snapshot may be nil.
func NewServer(eng *arbitration.Engine, snapshot func(), log *zap.Logger) *Server {
	return &Server{
		eng:      eng,
		log:      log,
		snapshot: snapshot,
		conns:    make(map[net.Conn]struct{}),
		quit:     make(chan struct{}),
	}
}

// Start begins listening on addr.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.log.Info("rpc server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	codec := NewCodec(conn)
	limiter := rate.NewLimiter(rate.Limit(connRateLimit), connRateBurst)

	for {
		req, err := codec.ReadRequest()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			codec.SendResponse(&Response{
				ID:    req.ID,
				Error: &Error{Code: codeBadRequest, Message: "rate limited"},
			})
			continue
		}

		result, err := s.dispatch(req)
		resp := &Response{ID: req.ID}
		if err != nil {
			resp.Error = toError(err)
			s.log.Debug("rpc call failed",
				zap.String("method", req.Method),
				zap.Error(err))
		} else {
			resp.Result = result
		}
		if err := codec.SendResponse(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req *Request) (interface{}, error) {
	switch req.Method {
	case "arb.activate":
		var p callerParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.Activate(p.addr()))

	case "arb.whitelist_caller":
		var p addrParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.WhitelistCaller(p.addr(), types.Address(p.Target)))

	case "arb.unwhitelist_caller":
		var p addrParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.UnwhitelistCaller(p.addr(), types.Address(p.Target)))

	case "arb.open_dispute":
		var p openDisputeParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		jobID, err := s.eng.OpenDispute(p.addr(), p.PaymentID,
			types.Address(p.Host), types.Address(p.Guest), amount)
		if err := s.mutate(err); err != nil {
			return nil, err
		}
		return jobResult{JobID: jobID}, nil

	case "arb.next_required_job":
		return jobResult{JobID: s.eng.NextRequiredJob()}, nil

	case "arb.advance":
		var p jobParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.Advance(p.addr(), p.JobID))

	case "arb.request_appeal":
		var p jobParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		childID, err := s.eng.RequestAppeal(p.addr(), p.JobID)
		if err := s.mutate(err); err != nil {
			return nil, err
		}
		return jobResult{JobID: childID}, nil

	case "arb.cast_vote":
		var p castVoteParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.CastVote(p.addr(), p.VoteID, p.Value))

	case "arb.first_incomplete_vote":
		var p callerParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return voteResult{VoteID: s.eng.FirstIncompleteVote(p.addr())}, nil

	case "arb.register_stake":
		var p amountParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		id, err := s.eng.RegisterStake(p.addr(), amount)
		if err := s.mutate(err); err != nil {
			return nil, err
		}
		return arbiterResult{ArbiterID: id}, nil

	case "arb.approve_arbiter":
		var p arbiterParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.ApproveArbiter(p.addr(), p.ArbiterID))

	case "arb.ban_arbiter":
		var p arbiterParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.BanArbiter(p.addr(), p.ArbiterID))

	case "arb.start_mining":
		var p amountParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.StartMining(p.addr(), amount))

	case "arb.stop_mining":
		var p callerParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.StopMining(p.addr()))

	case "arb.transfer_token":
		var p transferParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		return okResult{}, s.mutate(s.eng.TransferToken(p.addr(), types.Address(p.To), amount))

	case "arb.get_job":
		var p jobParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return s.eng.JobByID(p.JobID)

	case "arb.get_job_votes":
		var p jobParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return s.eng.JobVotes(p.JobID)

	case "arb.get_vote":
		var p voteParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		return s.eng.VoteByID(p.VoteID)

	case "arb.get_arbiter":
		var p arbiterParams
		if err := parse(req.Params, &p); err != nil {
			return nil, err
		}
		if p.ArbiterID != 0 {
			return s.eng.ArbiterByID(p.ArbiterID)
		}
		return s.eng.ArbiterByAddr(p.addr())

	case "arb.status":
		return statusResult{
			Active:     s.eng.Active(),
			QueueLen:   s.eng.QueueLen(),
			InProgress: s.eng.InProgress(),
		}, nil
	}

	return nil, &Error{Code: codeBadRequest, Message: "unknown method: " + req.Method}
}

// mutate runs the snapshot hook after a successful state change.
func (s *Server) mutate(err error) error {
	if err == nil && s.snapshot != nil {
		s.snapshot()
	}
	return err
}

func parse(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return &Error{Code: codeBadRequest, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: codeBadRequest, Message: "bad params: " + err.Error()}
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, &Error{Code: codeBadRequest, Message: "bad amount: " + s}
	}
	return amount, nil
}

// toError maps engine failures onto wire error codes.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := codeBadRequest
	switch {
	case errors.Is(err, arbitration.ErrUnauthorized):
		code = codeUnauthorized
	case errors.Is(err, arbitration.ErrInactive):
		code = codeInactive
	case errors.Is(err, arbitration.ErrInvalidState), errors.Is(err, stake.ErrInvalidState):
		code = codeInvalidState
	case errors.Is(err, arbitration.ErrNotDue):
		code = codeNotDue
	case errors.Is(err, arbitration.ErrUnknownJob),
		errors.Is(err, arbitration.ErrUnknownVote),
		errors.Is(err, stake.ErrUnknownArbiter):
		code = codeUnknownRecord
	case errors.Is(err, arbitration.ErrNotYourVote):
		code = codeNotYourVote
	case errors.Is(err, arbitration.ErrVotingClosed):
		code = codeVotingClosed
	case errors.Is(err, arbitration.ErrInvalidVoteValue):
		code = codeInvalidVoteValue
	case errors.Is(err, stake.ErrStakeTooLow),
		errors.Is(err, stake.ErrNotMining),
		errors.Is(err, stake.ErrAlreadyMining):
		code = codeStake
	case errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInsufficientBalance):
		code = codeAllowance
	case errors.Is(err, arbitration.ErrFundsPromised):
		code = codeFundsPromised
	}
	return &Error{Code: code, Message: err.Error()}
}

// Param and result shapes. Every mutating call names its caller; the addr
// field is the authenticated sender.

type callerParams struct {
	Addr string `json:"addr"`
}

func (p callerParams) addr() types.Address { return types.Address(p.Addr) }

type addrParams struct {
	Addr   string `json:"addr"`
	Target string `json:"target"`
}

func (p addrParams) addr() types.Address { return types.Address(p.Addr) }

type jobParams struct {
	Addr  string `json:"addr"`
	JobID uint64 `json:"job_id"`
}

func (p jobParams) addr() types.Address { return types.Address(p.Addr) }

type voteParams struct {
	VoteID uint64 `json:"vote_id"`
}

type arbiterParams struct {
	Addr      string `json:"addr"`
	ArbiterID uint64 `json:"arbiter_id"`
}

func (p arbiterParams) addr() types.Address { return types.Address(p.Addr) }

type amountParams struct {
	Addr   string `json:"addr"`
	Amount string `json:"amount"`
}

func (p amountParams) addr() types.Address { return types.Address(p.Addr) }

type castVoteParams struct {
	Addr   string `json:"addr"`
	VoteID uint64 `json:"vote_id"`
	Value  uint8  `json:"value"`
}

func (p castVoteParams) addr() types.Address { return types.Address(p.Addr) }

type openDisputeParams struct {
	Addr      string `json:"addr"`
	PaymentID string `json:"payment_id"`
	Host      string `json:"host"`
	Guest     string `json:"guest"`
	Amount    string `json:"amount"`
}

func (p openDisputeParams) addr() types.Address { return types.Address(p.Addr) }

type transferParams struct {
	Addr   string `json:"addr"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (p transferParams) addr() types.Address { return types.Address(p.Addr) }

type okResult struct{}

type jobResult struct {
	JobID uint64 `json:"job_id"`
}

type voteResult struct {
	VoteID uint64 `json:"vote_id"`
}

type arbiterResult struct {
	ArbiterID uint64 `json:"arbiter_id"`
}

type statusResult struct {
	Active     bool     `json:"active"`
	QueueLen   int      `json:"queue_len"`
	InProgress []uint64 `json:"in_progress"`
}
