// Package state owns the durable record of repositories, workpads, test
// runs, AI operations, promotion decisions, and the commit graph snapshot
// that backs them. It is written and read through Manager; gitsync.Sync and
// the automerge workflow are callers that also use the Git engine.
package state

import "time"

// RepoSource records where a repository's initial commit came from.
type RepoSource string

const (
	SourceZip   RepoSource = "zip"
	SourceGit   RepoSource = "git"
	SourceEmpty RepoSource = "empty"
)

// WorkpadStatus is the lifecycle state of a workpad.
type WorkpadStatus string

const (
	WorkpadActive   WorkpadStatus = "active"
	WorkpadTesting  WorkpadStatus = "testing"
	WorkpadPassed   WorkpadStatus = "passed"
	WorkpadFailed   WorkpadStatus = "failed"
	WorkpadPromoted WorkpadStatus = "promoted"
	WorkpadDeleted  WorkpadStatus = "deleted"
)

// TestVerdict is the aggregate verdict of the most recent test run on a workpad.
type TestVerdict string

const (
	VerdictGreen   TestVerdict = "green"
	VerdictRed     TestVerdict = "red"
	VerdictPending TestVerdict = "pending"
)

// TestStatus is the per-test or per-run outcome.
type TestStatus string

const (
	TestPending TestStatus = "pending"
	TestRunning TestStatus = "running"
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestTimeout TestStatus = "timeout"
	TestError   TestStatus = "error"
	TestSkipped TestStatus = "skipped"
)

// AIOpType enumerates the kinds of AI operation the core tracks on behalf of
// an external AIOrchestrator. The core never interprets these beyond storage.
type AIOpType string

const (
	AIOpPlanning      AIOpType = "planning"
	AIOpCoding        AIOpType = "coding"
	AIOpReviewing     AIOpType = "reviewing"
	AIOpCommitMessage AIOpType = "commit_message"
	AIOpReview        AIOpType = "review"
)

// AIOpStatus is the lifecycle state of an AIOperation.
type AIOpStatus string

const (
	AIOpPending   AIOpStatus = "pending"
	AIOpRunning   AIOpStatus = "running"
	AIOpCompleted AIOpStatus = "completed"
	AIOpFailed    AIOpStatus = "failed"
)

// PromotionDecision is the gate's verdict.
type PromotionDecision string

const (
	DecisionApprove      PromotionDecision = "approve"
	DecisionReject       PromotionDecision = "reject"
	DecisionManualReview PromotionDecision = "manual_review"
)

// CIStatus is the post-promotion smoke-test verdict.
type CIStatus string

const (
	CIPending CIStatus = "pending"
	CIRunning CIStatus = "running"
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CIUnstable CIStatus = "unstable"
	CIAborted CIStatus = "aborted"
)

// EventType is the closed set of audit-log event kinds.
type EventType string

const (
	EventRepoCreated          EventType = "repo_created"
	EventRepoUpdated          EventType = "repo_updated"
	EventWorkpadCreated       EventType = "workpad_created"
	EventWorkpadUpdated       EventType = "workpad_updated"
	EventWorkpadPromoted      EventType = "workpad_promoted"
	EventWorkpadDeleted       EventType = "workpad_deleted"
	EventTestStarted          EventType = "test_started"
	EventTestCompleted        EventType = "test_completed"
	EventAIOperationStarted   EventType = "ai_operation_started"
	EventAIOperationCompleted EventType = "ai_operation_completed"
	EventCommitCreated        EventType = "commit_created"
	EventPromotionRecorded    EventType = "promotion_recorded"
)

// Repository is a managed Git working tree.
type Repository struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Path             string     `json:"path"`
	TrunkBranch      string     `json:"trunk_branch"`
	CreatedAt        time.Time  `json:"created_at"`
	Source           RepoSource `json:"source"`
	ActiveWorkpadCnt int        `json:"active_workpad_count"`
}

// Workpad is an ephemeral ref rooted at a trunk commit.
type Workpad struct {
	ID                string        `json:"id"`
	RepoID            string        `json:"repo_id"`
	Title             string        `json:"title"`
	BranchName        string        `json:"branch_name"`
	BaseCommit        string        `json:"base_commit"`
	Status            WorkpadStatus `json:"status"`
	LastTestVerdict   *TestVerdict  `json:"last_test_verdict,omitempty"`
	LastAppliedCommit string        `json:"last_applied_commit,omitempty"`
	Checkpoints       []string      `json:"checkpoints"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewWorkpad constructs a Workpad with non-nil slice fields, avoiding the
// shared-mutable-default pitfall of a zero-value literal.
func NewWorkpad(id, repoID, title, branch, baseCommit string) *Workpad {
	now := time.Now().UTC()
	return &Workpad{
		ID:          id,
		RepoID:      repoID,
		Title:       title,
		BranchName:  branch,
		BaseCommit:  baseCommit,
		Status:      WorkpadActive,
		Checkpoints: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CommitNode is a snapshot of a Git commit for graph display.
type CommitNode struct {
	SHA          string     `json:"sha"`
	ShortSHA     string     `json:"short_sha"`
	Message      string     `json:"message"`
	Author       string     `json:"author"`
	Timestamp    time.Time  `json:"timestamp"`
	ParentSHA    string     `json:"parent_sha,omitempty"`
	WorkpadID    string     `json:"workpad_id,omitempty"`
	TestVerdict  *TestVerdict `json:"test_verdict,omitempty"`
	CIStatus     *CIStatus    `json:"ci_status,omitempty"`
	IsTrunk      bool       `json:"is_trunk"`
}

// TestResult is the outcome of a single test within a TestRun.
type TestResult struct {
	Name          string            `json:"name"`
	Status        TestStatus        `json:"status"`
	DurationMs    int64             `json:"duration_ms"`
	ExitCode      int               `json:"exit_code"`
	Stdout        string            `json:"stdout"`
	Stderr        string            `json:"stderr"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	LogPath       string            `json:"log_path,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	ExecutionMode string            `json:"execution_mode"`
}

// TestRun is one execution of a test suite against a workpad (or trunk, for CI).
type TestRun struct {
	ID          string        `json:"id"`
	WorkpadID   string        `json:"workpad_id,omitempty"`
	TargetLabel string        `json:"target_label"`
	Status      TestStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	DurationMs  int64         `json:"duration_ms"`
	Results     []TestResult  `json:"results"`
}

// NewTestRun constructs a TestRun with a non-nil Results slice.
func NewTestRun(id, workpadID, targetLabel string) *TestRun {
	return &TestRun{
		ID:          id,
		WorkpadID:   workpadID,
		TargetLabel: targetLabel,
		Status:      TestPending,
		StartedAt:   time.Now().UTC(),
		Results:     []TestResult{},
	}
}

// AIOperation is an opaque-from-the-core record of an AI call attached to a workpad.
type AIOperation struct {
	ID          string     `json:"id"`
	WorkpadID   string     `json:"workpad_id,omitempty"`
	Type        AIOpType   `json:"type"`
	Model       string     `json:"model"`
	Status      AIOpStatus `json:"status"`
	Prompt      string     `json:"prompt"`
	Response    string     `json:"response"`
	TokensTotal int64      `json:"tokens_total"`
	CostTotal   float64    `json:"cost_total"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// PromotionRecord captures a single promotion-gate decision and its outcome.
type PromotionRecord struct {
	ID             string            `json:"id"`
	RepoID         string            `json:"repo_id"`
	WorkpadID      string            `json:"workpad_id"`
	Decision       PromotionDecision `json:"decision"`
	CanPromote     bool              `json:"can_promote"`
	AutoPromote    bool              `json:"auto_promote_requested"`
	Promoted       bool              `json:"promoted"`
	PromotedCommit string            `json:"promoted_commit,omitempty"`
	Message        string            `json:"message"`
	TestRunID      string            `json:"test_run_id,omitempty"`
	CIStatus       CIStatus          `json:"ci_status,omitempty"`
	CIMessage      string            `json:"ci_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StateEvent is one entry in the append-only audit log.
type StateEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// GlobalState is the singleton "where the user currently is" record.
type GlobalState struct {
	SchemaVersion     int       `json:"schema_version"`
	LastUpdated       time.Time `json:"last_updated"`
	ActiveRepoID      string    `json:"active_repo_id,omitempty"`
	ActiveWorkpadID   string    `json:"active_workpad_id,omitempty"`
	SessionStart      time.Time `json:"session_start"`
	OperationCount    int64     `json:"operation_count"`
	CumulativeCostUSD float64   `json:"cumulative_cost_usd"`
}

// CurrentSchemaVersion is the version written by this build.
const CurrentSchemaVersion = 1

// NewGlobalState builds a fresh GlobalState for a new session.
func NewGlobalState() *GlobalState {
	now := time.Now().UTC()
	return &GlobalState{
		SchemaVersion: CurrentSchemaVersion,
		LastUpdated:   now,
		SessionStart:  now,
	}
}
