package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/types"
	"github.com/beenest/arbiterd/testutil"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}


func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(filepath.Join(dir, "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s.Close()

	want := testutil.SampleSnapshot()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot missing after Save")
	}

	if got.Active != want.Active || got.Operator != want.Operator {
		t.Errorf("meta mismatch: active=%v operator=%s", got.Active, got.Operator)
	}
	if !reflect.DeepEqual(got.Whitelist, want.Whitelist) {
		t.Errorf("whitelist = %v, want %v", got.Whitelist, want.Whitelist)
	}
	if !reflect.DeepEqual(got.InProgress, want.InProgress) {
		t.Errorf("in-progress = %v, want %v", got.InProgress, want.InProgress)
	}

	if len(got.Arbiters) != len(want.Arbiters) {
		t.Fatalf("arbiter count = %d, want %d", len(got.Arbiters), len(want.Arbiters))
	}
	for i, a := range got.Arbiters {
		w := want.Arbiters[i]
		if a.ID != w.ID || a.Addr != w.Addr || a.State != w.State ||
			a.Stake.Cmp(w.Stake) != 0 || a.QueuePos != w.QueuePos {
			t.Errorf("arbiter[%d] = %+v, want %+v", i, a, w)
		}
	}

	if len(got.Jobs) != 1 {
		t.Fatalf("job count = %d, want 1", len(got.Jobs))
	}
	j, w := got.Jobs[0], want.Jobs[0]
	if j.ID != w.ID || j.PaymentID != w.PaymentID || j.State != w.State ||
		j.Host != w.Host || j.Guest != w.Guest ||
		j.RequestedAt != w.RequestedAt || j.MinVoteTime != w.MinVoteTime ||
		j.MaxVoteTime != w.MaxVoteTime || j.AppealDeadline != w.AppealDeadline {
		t.Errorf("job = %+v, want %+v", j, w)
	}
	if j.FeePaidIn.Cmp(w.FeePaidIn) != 0 || j.RemainingFee.Cmp(w.RemainingFee) != 0 ||
		j.DisputeAmount.Cmp(w.DisputeAmount) != 0 {
		t.Errorf("job amounts = %s/%s/%s, want %s/%s/%s",
			j.FeePaidIn, j.RemainingFee, j.DisputeAmount,
			w.FeePaidIn, w.RemainingFee, w.DisputeAmount)
	}

	if len(got.Votes) != len(want.Votes) {
		t.Fatalf("vote count = %d, want %d", len(got.Votes), len(want.Votes))
	}
	for i, v := range got.Votes {
		if *v != *want.Votes[i] {
			t.Errorf("vote[%d] = %+v, want %+v", i, v, want.Votes[i])
		}
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(filepath.Join(dir, "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s.Close()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("fresh store returned snapshot %+v, want nil", got)
	}
}

func TestSave_ReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := NewBoltStore(path, testLogger())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}

	first := testutil.SampleSnapshot()
	if err := s.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := testutil.SampleSnapshot()
	second.Jobs[0].State = types.JobResolved
	second.InProgress = nil
	second.Votes = second.Votes[:1]
	if err := s.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}
	s.Close()

	// Reopen to prove the replacement is durable.
	s, err = NewBoltStore(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Votes) != 1 {
		t.Errorf("vote count = %d, want 1 (old records must not linger)", len(got.Votes))
	}
	if got.Jobs[0].State != types.JobResolved {
		t.Errorf("job state = %s, want resolved", got.Jobs[0].State)
	}
	if got.InProgress != nil {
		t.Errorf("in-progress = %v, want empty", got.InProgress)
	}
}
