package app

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
)

func isolateConfig(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("dustsweep sweep run"); got != "sweep run" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("0xAbC, 0xdef ,")
	if len(items) != 2 || items[0] != "0xabc" || items[1] != "0xdef" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestSplitIDsKeepsCase(t *testing.T) {
	items := splitIDs("8453-0xAbC-0xDeF, ,1-0x1-0x2")
	if len(items) != 2 || items[0] != "8453-0xAbC-0xDeF" || items[1] != "1-0x1-0x2" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerProvidersList(t *testing.T) {
	isolateConfig(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"providers", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	names := map[string]bool{}
	for _, item := range out {
		names[item["name"].(string)] = true
	}
	for _, want := range []string{"relay", "routescan", "covalent"} {
		if !names[want] {
			t.Fatalf("expected provider %s in %v", want, names)
		}
	}
}

func TestRunnerChainsList(t *testing.T) {
	isolateConfig(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"chains", "list", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []struct {
		ChainID int64             `json:"chain_id"`
		CAIP2   string            `json:"caip2"`
		Targets map[string]string `json:"targets"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(out) != 6 {
		t.Fatalf("expected six supported chains, got %d", len(out))
	}
	var base bool
	for _, chain := range out {
		if chain.ChainID != 8453 {
			continue
		}
		base = true
		if chain.CAIP2 != "eip155:8453" {
			t.Fatalf("unexpected caip2 %q", chain.CAIP2)
		}
		if chain.Targets["ETH"] != "0x0000000000000000000000000000000000000000" || chain.Targets["USDC"] == "" {
			t.Fatalf("unexpected base targets %v", chain.Targets)
		}
	}
	if !base {
		t.Fatal("expected base in chain list")
	}
}

func TestRunnerSchemaMarksMutatingCommands(t *testing.T) {
	isolateConfig(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"schema", "sweep", "run", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse schema: %v output=%s", err, stdout.String())
	}
	if out["mutating"] != true {
		t.Fatalf("expected sweep run to be marked mutating, got %v", out)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolateConfig(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"chains", "list", "--enable-commands", "scan", "--results-only"})
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr.String())
	}
	var env map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerUsageErrorExitCode(t *testing.T) {
	isolateConfig(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"scan", "--chain", "base"}); code != 2 {
		t.Fatalf("expected usage exit 2 for missing --address, got %d stderr=%s", code, stderr.String())
	}
}
