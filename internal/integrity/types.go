// Package integrity checks the stored instance documents for problems the
// API never produces itself, such as documents imported by hand or written
// by older versions, and repairs them.
package integrity

import (
	"time"

	"evalgo.org/nimbus/internal/storage"
)

// IssueType represents the type of integrity issue detected.
type IssueType string

const (
	// IssueTypeDuplicate indicates several documents describing the same instance
	IssueTypeDuplicate IssueType = "duplicate"

	// IssueTypeMisplaced indicates a document whose ID does not match its instance ID
	IssueTypeMisplaced IssueType = "misplaced"

	// IssueTypeStaleIndex indicates top level node or name fields that differ from the instance
	IssueTypeStaleIndex IssueType = "stale_index"

	// IssueTypeUnnormalized indicates memory, processors or roles below the stored defaults
	IssueTypeUnnormalized IssueType = "unnormalized"

	// IssueTypeInvalidSchema indicates an instance that fails validation
	IssueTypeInvalidSchema IssueType = "invalid_schema"

	// IssueTypeOrphanedInfo indicates info that names another instance
	IssueTypeOrphanedInfo IssueType = "orphaned_info"
)

// Severity represents how critical an issue is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ResolutionStrategy decides which document survives a duplicate.
type ResolutionStrategy string

const (
	// StrategyLatestWins keeps the document with the latest dateModified
	StrategyLatestWins ResolutionStrategy = "latest_wins"

	// StrategyOldestWins keeps the document with the earliest dateModified
	StrategyOldestWins ResolutionStrategy = "oldest_wins"
)

// ParseStrategy converts a command line value to a ResolutionStrategy.
func ParseStrategy(s string) (ResolutionStrategy, bool) {
	switch ResolutionStrategy(s) {
	case StrategyLatestWins, StrategyOldestWins:
		return ResolutionStrategy(s), true
	}
	return "", false
}

// Issue represents a single integrity problem.
type Issue struct {
	ID          string    `json:"id"`
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	InstanceID  string    `json:"instance_id"`
	DocumentIDs []string  `json:"document_ids"`
	Description string    `json:"description"`

	// Repairable is false for issues that need a human, like a negative memory.
	Repairable bool `json:"repairable"`
}

// ScanReport contains the results of an integrity scan.
type ScanReport struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	Duration         time.Duration `json:"duration"`
	DocumentsScanned int           `json:"documents_scanned"`
	Issues           []Issue       `json:"issues"`
	Summary          ScanSummary   `json:"summary"`
}

// ScanSummary provides aggregated scan statistics.
type ScanSummary struct {
	TotalIssues int               `json:"total_issues"`
	ByType      map[IssueType]int `json:"by_type"`
	BySeverity  map[Severity]int  `json:"by_severity"`

	// HealthScore is 100 for a clean database and drops with every issue.
	HealthScore int `json:"health_score"`
}

// OperationType is the kind of change a repair makes.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Execution stages. Operations run in stage order.
const (
	stageDedupe = iota
	stageWrite
	stageCleanup
)

// RepairOperation is one document change of a plan.
type RepairOperation struct {
	IssueID    string        `json:"issue_id"`
	Type       OperationType `json:"type"`
	DocumentID string        `json:"document_id"`
	Rev        string        `json:"rev,omitempty"`
	Reason     string        `json:"reason"`

	document *storage.InstanceDocument
	stage    int
}

// RepairPlan lists the operations resolving the repairable issues of a scan.
type RepairPlan struct {
	ID         string             `json:"id"`
	ScanID     string             `json:"scan_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Strategy   ResolutionStrategy `json:"strategy"`
	Operations []RepairOperation  `json:"operations"`
	Skipped    []Issue            `json:"skipped,omitempty"`
}

// RepairResult describes an executed plan.
type RepairResult struct {
	PlanID    string            `json:"plan_id"`
	DryRun    bool              `json:"dry_run"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []OperationResult `json:"results"`
}

// OperationResult is the outcome of one operation.
type OperationResult struct {
	Operation RepairOperation `json:"operation"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
}

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	OperationType string                 `json:"operation_type"`
	ReferenceID   string                 `json:"reference_id"`
	Success       bool                   `json:"success"`
	Details       map[string]interface{} `json:"details,omitempty"`
}
