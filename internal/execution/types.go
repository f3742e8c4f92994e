package execution

import (
	"sync"
	"time"

	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/google/uuid"
)

type RunStatus string

type StepStatus string

type StepType string

type RunKind string

const (
	RunStatusPlanned   RunStatus = "planned"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

const (
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeQuote    StepType = "quote"
	StepTypeApproval StepType = "approval"
	StepTypeSwap     StepType = "swap"
	StepTypeBatch    StepType = "batch"
	StepTypeRevoke   StepType = "revoke"
)

const (
	RunKindSweep  RunKind = "sweep"
	RunKindRevoke RunKind = "revoke"
)

// RunStep is one journal entry of an orchestration run.
type RunStep struct {
	Type   StepType   `json:"type"`
	Status StepStatus `json:"status"`
	Token  string     `json:"token,omitempty"`
	Target string     `json:"target,omitempty"`
	TxHash string     `json:"tx_hash,omitempty"`
	Detail string     `json:"detail,omitempty"`
	At     string     `json:"at"`
}

// Run is the persisted record of one sweep or revoke invocation.
type Run struct {
	RunID     string                   `json:"run_id"`
	Kind      RunKind                  `json:"kind"`
	Status    RunStatus                `json:"status"`
	ChainID   int64                    `json:"chain_id"`
	Owner     string                   `json:"owner"`
	Strategy  model.ExecutionStrategy  `json:"strategy,omitempty"`
	Target    string                   `json:"target,omitempty"`
	CreatedAt string                   `json:"created_at"`
	UpdatedAt string                   `json:"updated_at"`
	Steps     []RunStep                `json:"steps"`
	Sweep     *model.ExecutionResult   `json:"sweep_result,omitempty"`
	Revoke    *model.RevokeBatchResult `json:"revoke_result,omitempty"`

	mu sync.Mutex
}

func NewRunID() string {
	return "run_" + uuid.NewString()
}

func NewRun(kind RunKind, chainID int64, owner string) *Run {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Run{
		RunID:     NewRunID(),
		Kind:      kind,
		Status:    RunStatusPlanned,
		ChainID:   chainID,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     []RunStep{},
	}
}

// Record appends a step. Safe to call from the orchestrator goroutine while
// a progress printer reads the run.
func (r *Run) Record(step RunStep) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if step.At == "" {
		step.At = time.Now().UTC().Format(time.RFC3339)
	}
	r.Steps = append(r.Steps, step)
	r.UpdatedAt = step.At
	if r.Status == RunStatusPlanned {
		r.Status = RunStatusRunning
	}
}

func (r *Run) CompleteSweep(result model.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sweep = &result
	r.Status = RunStatusFailed
	if result.Success {
		r.Status = RunStatusCompleted
	}
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

func (r *Run) CompleteRevoke(result model.RevokeBatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Revoke = &result
	r.Status = RunStatusFailed
	if result.Success {
		r.Status = RunStatusCompleted
	}
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Recorder receives journal steps as an orchestration run progresses.
type Recorder interface {
	Record(step RunStep)
}
