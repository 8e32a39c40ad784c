package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditLogger appends one JSON line per scan and repair to a daily file.
// An AuditLogger without a directory records nothing.
type AuditLogger struct {
	dir string
	mu  sync.Mutex
}

// NewAuditLogger creates an audit logger writing below dir.
func NewAuditLogger(dir string) *AuditLogger {
	return &AuditLogger{dir: dir}
}

// LogScan records a scan.
func (a *AuditLogger) LogScan(report *ScanReport) error {
	return a.write(AuditEntry{
		OperationType: "scan",
		ReferenceID:   report.ID,
		Success:       true,
		Details: map[string]interface{}{
			"duration_ms":       report.Duration.Milliseconds(),
			"documents_scanned": report.DocumentsScanned,
			"issues_found":      report.Summary.TotalIssues,
			"health_score":      report.Summary.HealthScore,
		},
	})
}

// LogExecution records an executed repair plan.
func (a *AuditLogger) LogExecution(result *RepairResult) error {
	return a.write(AuditEntry{
		OperationType: "repair",
		ReferenceID:   result.PlanID,
		Success:       result.Failed == 0,
		Details: map[string]interface{}{
			"dry_run":     result.DryRun,
			"succeeded":   result.Succeeded,
			"failed":      result.Failed,
			"duration_ms": result.EndTime.Sub(result.StartTime).Milliseconds(),
		},
	})
}

func (a *AuditLogger) write(entry AuditEntry) error {
	if a == nil || a.dir == "" {
		return nil
	}

	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	name := filepath.Join(a.dir, fmt.Sprintf("integrity-audit-%s.jsonl", entry.Timestamp.Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}
