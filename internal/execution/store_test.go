package execution

import (
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggonzalez94/dustsweep/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "runs.db"), filepath.Join(dir, "runs.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestStore(t)

	run := NewRun(RunKindSweep, 8453, "0x00000000000000000000000000000000000000AA")
	run.Strategy = model.StrategyLegacy
	run.Record(RunStep{Type: StepTypeSwap, Status: StepStatusConfirmed, Token: "DEGEN", TxHash: "0xabc"})
	if err := store.Save(run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(run.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != RunKindSweep || got.ChainID != 8453 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].TxHash != "0xabc" {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
	if got.Status != RunStatusRunning {
		t.Fatalf("expected running after first step, got %s", got.Status)
	}

	run.CompleteSweep(model.ExecutionResult{Success: true, TxHashes: []string{"0xabc"}, TotalSwapped: big.NewInt(10), EstimatedOutput: big.NewInt(9)})
	if err := store.Save(run); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	completed, err := store.List(string(RunStatusCompleted), "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completed run, got %d", len(completed))
	}
	if completed[0].Sweep == nil || completed[0].Sweep.EstimatedOutput.Int64() != 9 {
		t.Fatalf("expected sweep result to round-trip, got %+v", completed[0].Sweep)
	}

	revokes, err := store.List("", string(RunKindRevoke), 10)
	if err != nil {
		t.Fatalf("List by kind failed: %v", err)
	}
	if len(revokes) != 0 {
		t.Fatalf("expected no revoke runs, got %d", len(revokes))
	}
}

func TestStoreGetMissingRun(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("missing")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("expected missing run error, got %v", err)
	}
}

func TestRunIDPrefix(t *testing.T) {
	if id := NewRunID(); !strings.HasPrefix(id, "run_") || len(id) != len("run_")+36 {
		t.Fatalf("unexpected run id: %s", id)
	}
}
