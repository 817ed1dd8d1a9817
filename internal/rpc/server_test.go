package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/ruling"
	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
	"github.com/beenest/arbiterd/testutil"
)

const (
	testOperator = "op"
	testCustody  = "engine"
	testEscrow   = "escrow"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func testEngine(t *testing.T) (*arbitration.Engine, *token.InMemory) {
	t.Helper()
	tok := token.NewInMemory()
	cfg := arbitration.Config{
		Operator:     testOperator,
		Custody:      testCustody,
		MinStake:     big.NewInt(100),
		DisputeFee:   big.NewInt(1000),
		PanelSize:    2,
		MinVoteDelay: 100,
		VoteWindow:   100,
		AppealWindow: 100,
		SlashNum:     1,
		SlashDen:     1,
		Policy: ruling.Policy{
			MaxVoteValue:  4,
			VoteReward:    big.NewInt(50),
			TriggerCutNum: 1,
			TriggerCutDen: 10,
		},
	}
	eng := arbitration.New(cfg, tok, zap.NewNop())
	if err := eng.Activate(testOperator); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := eng.WhitelistCaller(testOperator, testEscrow); err != nil {
		t.Fatalf("WhitelistCaller: %v", err)
	}
	return eng, tok
}

// client is a line-oriented test client for the server.
type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) call(method string, params interface{}) *Response {
	c.t.Helper()
	c.nextID++
	raw, err := json.Marshal(params)
	if err != nil {
		c.t.Fatalf("marshal params: %v", err)
	}
	line := fmt.Sprintf(`{"id":%d,"method":%q,"params":%s}`+"\n", c.nextID, method, raw)
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.t.Fatalf("write request: %v", err)
	}

	data, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.t.Fatalf("unmarshal response: %v", err)
	}
	if fmt.Sprint(resp.ID) != fmt.Sprint(c.nextID) {
		c.t.Fatalf("response id = %v, want %d", resp.ID, c.nextID)
	}
	return &resp
}

// must asserts the call succeeded and decodes the result into v (when non-nil).
func (c *client) must(method string, params, v interface{}) {
	c.t.Helper()
	resp := c.call(method, params)
	if resp.Error != nil {
		c.t.Fatalf("%s returned error: %v", method, resp.Error)
	}
	if v != nil {
		raw, _ := json.Marshal(resp.Result)
		if err := json.Unmarshal(raw, v); err != nil {
			c.t.Fatalf("decode %s result: %v", method, err)
		}
	}
}

func startServer(t *testing.T, eng *arbitration.Engine, snapshot func()) *Server {
	t.Helper()
	srv := NewServer(eng, snapshot, testLogger())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func TestServer_StartStop(t *testing.T) {
	eng, _ := testEngine(t)
	srv := NewServer(eng, nil, testLogger())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	srv.Stop()
}

func TestServer_Status(t *testing.T) {
	eng, _ := testEngine(t)
	srv := startServer(t, eng, nil)
	c := dial(t, srv.Addr())

	var st statusResult
	c.must("arb.status", map[string]string{}, &st)
	if !st.Active {
		t.Error("engine should report active")
	}
	if st.QueueLen != 0 || len(st.InProgress) != 0 {
		t.Errorf("fresh engine: queue=%d inprog=%v", st.QueueLen, st.InProgress)
	}
}

func TestServer_StakeLifecycle(t *testing.T) {
	eng, tok := testEngine(t)
	srv := startServer(t, eng, nil)
	c := dial(t, srv.Addr())

	testutil.FundAccount(t, tok, "miner1", testCustody, 1000)

	var reg arbiterResult
	c.must("arb.register_stake", map[string]string{
		"addr": "miner1", "amount": "100",
	}, &reg)
	if reg.ArbiterID != 1 {
		t.Fatalf("arbiter id = %d, want 1", reg.ArbiterID)
	}

	c.must("arb.approve_arbiter", map[string]interface{}{
		"addr": testOperator, "arbiter_id": reg.ArbiterID,
	}, nil)
	c.must("arb.start_mining", map[string]string{
		"addr": "miner1", "amount": "100",
	}, nil)

	var a types.Arbiter
	c.must("arb.get_arbiter", map[string]interface{}{"arbiter_id": reg.ArbiterID}, &a)
	if !a.Mining() {
		t.Error("arbiter should be mining")
	}
	if a.Stake.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("stake = %v, want 100", a.Stake)
	}

	var st statusResult
	c.must("arb.status", map[string]string{}, &st)
	if st.QueueLen != 1 {
		t.Errorf("queue len = %d, want 1", st.QueueLen)
	}

	c.must("arb.stop_mining", map[string]string{"addr": "miner1"}, nil)
	if got := tok.BalanceOf("miner1"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("miner1 balance after stop = %v, want 1000", got)
	}
}

func TestServer_DisputeFlow(t *testing.T) {
	eng, tok := testEngine(t)
	now := int64(1000)
	eng.SetClock(func() int64 { return now })

	var snaps atomic.Int64
	srv := startServer(t, eng, func() { snaps.Add(1) })
	c := dial(t, srv.Addr())

	// Two approved miners fill the panel.
	for i := 1; i <= 2; i++ {
		addr := fmt.Sprintf("miner%d", i)
		testutil.FundAccount(t, tok, types.Address(addr), testCustody, 1000)
		var reg arbiterResult
		c.must("arb.register_stake", map[string]string{"addr": addr, "amount": "100"}, &reg)
		c.must("arb.approve_arbiter", map[string]interface{}{
			"addr": testOperator, "arbiter_id": reg.ArbiterID,
		}, nil)
		c.must("arb.start_mining", map[string]string{"addr": addr, "amount": "100"}, nil)
	}

	testutil.FundAccount(t, tok, testEscrow, testCustody, 100_000)

	var opened jobResult
	c.must("arb.open_dispute", map[string]string{
		"addr":       testEscrow,
		"payment_id": "pay-1",
		"host":       "host",
		"guest":      "guest",
		"amount":     "20000",
	}, &opened)
	if opened.JobID != 1 {
		t.Fatalf("job id = %d, want 1", opened.JobID)
	}

	var next jobResult
	c.must("arb.next_required_job", map[string]string{}, &next)
	if next.JobID != 0 {
		t.Errorf("no job should be due yet, got %d", next.JobID)
	}

	now = 1101
	c.must("arb.next_required_job", map[string]string{}, &next)
	if next.JobID != opened.JobID {
		t.Fatalf("due job = %d, want %d", next.JobID, opened.JobID)
	}
	c.must("arb.advance", map[string]interface{}{
		"addr": "trigger", "job_id": opened.JobID,
	}, nil)

	var j types.Job
	c.must("arb.get_job", map[string]interface{}{"job_id": opened.JobID}, &j)
	if j.State != types.JobVotingOpen {
		t.Fatalf("job state = %v, want voting open", j.State)
	}

	// Both panelists vote through the polling surface.
	for i := 1; i <= 2; i++ {
		addr := fmt.Sprintf("miner%d", i)
		var pending voteResult
		c.must("arb.first_incomplete_vote", map[string]string{"addr": addr}, &pending)
		if pending.VoteID == 0 {
			t.Fatalf("%s has no pending vote", addr)
		}
		c.must("arb.cast_vote", map[string]interface{}{
			"addr": addr, "vote_id": pending.VoteID, "value": 2,
		}, nil)
	}

	now = 1301
	c.must("arb.advance", map[string]interface{}{
		"addr": "trigger", "job_id": opened.JobID,
	}, nil)
	c.must("arb.get_job", map[string]interface{}{"job_id": opened.JobID}, &j)
	if j.State != types.JobAwaitingAppeal {
		t.Fatalf("job state = %v, want awaiting appeal", j.State)
	}

	now = 1501
	c.must("arb.advance", map[string]interface{}{
		"addr": "trigger", "job_id": opened.JobID,
	}, nil)
	c.must("arb.get_job", map[string]interface{}{"job_id": opened.JobID}, &j)
	if j.State != types.JobResolved {
		t.Fatalf("job state = %v, want resolved", j.State)
	}

	// Votes {2,2} of 4 split the escrow evenly.
	if got := tok.BalanceOf("host"); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("host payout = %v, want 10000", got)
	}
	if got := tok.BalanceOf("guest"); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("guest payout = %v, want 10000", got)
	}

	if snaps.Load() == 0 {
		t.Error("snapshot hook never ran")
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	eng, _ := testEngine(t)
	srv := startServer(t, eng, nil)
	c := dial(t, srv.Addr())

	// Non-whitelisted caller opening a dispute.
	resp := c.call("arb.open_dispute", map[string]string{
		"addr": "stranger", "payment_id": "p", "host": "h", "guest": "g", "amount": "1",
	})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Errorf("open_dispute error = %v, want code %d", resp.Error, codeUnauthorized)
	}

	// Lookup of a never-allocated job.
	resp = c.call("arb.get_job", map[string]interface{}{"job_id": 42})
	if resp.Error == nil || resp.Error.Code != codeUnknownRecord {
		t.Errorf("get_job error = %v, want code %d", resp.Error, codeUnknownRecord)
	}

	// Advance with nothing due.
	resp = c.call("arb.advance", map[string]interface{}{"addr": "t", "job_id": 42})
	if resp.Error == nil || resp.Error.Code != codeUnknownRecord {
		t.Errorf("advance error = %v, want code %d", resp.Error, codeUnknownRecord)
	}

	// Malformed amount.
	resp = c.call("arb.register_stake", map[string]string{"addr": "m", "amount": "not-a-number"})
	if resp.Error == nil || resp.Error.Code != codeBadRequest {
		t.Errorf("register_stake error = %v, want code %d", resp.Error, codeBadRequest)
	}

	// Unknown method.
	resp = c.call("arb.bogus", map[string]string{})
	if resp.Error == nil || resp.Error.Code != codeBadRequest {
		t.Errorf("unknown method error = %v, want code %d", resp.Error, codeBadRequest)
	}
}

func TestServer_MalformedLine(t *testing.T) {
	eng, _ := testEngine(t)
	srv := startServer(t, eng, nil)
	c := dial(t, srv.Addr())

	if _, err := c.conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The server drops the connection on a framing error.
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadBytes('\n'); err == nil {
		t.Error("expected connection to close on malformed input")
	}
}
