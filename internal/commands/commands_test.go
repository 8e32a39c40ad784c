package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/config"
	"evalgo.org/nimbus/internal/console"
	"evalgo.org/nimbus/internal/integrity"
	"evalgo.org/nimbus/models"
)

func TestPrintInstances(t *testing.T) {
	var buf bytes.Buffer
	err := printInstances(&buf, models.Instances{
		{
			ID:           "i-1",
			Name:         models.String("web-01"),
			Node:         models.String("node-a"),
			Status:       models.String(models.StatusRunning),
			Memory:       models.Int(1024),
			Processors:   models.Int(2),
			PublicIP:     models.String("10.0.0.1"),
			NetworkRoles: []string{"web", "lb"},
		},
		{ID: "i-2"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Equal(t, []string{"i-1", "web-01", "node-a", "Running", "1024", "2", "10.0.0.1", "web,lb"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"i-2", "-", "-", "-", "-", "-", "-", "-"}, strings.Fields(lines[2]))
}

func TestPageSummary(t *testing.T) {
	assert.Equal(t, "no instances", pageSummary(0, 50, 0))
	assert.Equal(t, "page 1/1, 3 instances", pageSummary(0, 50, 3))
	assert.Equal(t, "page 3/4, 35 instances", pageSummary(2, 10, 35))
}

func TestPrintSnapshot(t *testing.T) {
	store := console.NewStore()
	require.NoError(t, store.Dispatch(models.NewDispatch(models.ActionFilter, &models.DispatchData{
		Filter: &models.Filter{Name: models.String("web")},
	})))
	require.NoError(t, store.Dispatch(models.NewDispatch(models.ActionSync, &models.DispatchData{
		Instances: models.Instances{{ID: "i-1", Name: models.String("web-01")}},
		Page:      models.Int(0),
		PageCount: models.Int(10),
		Count:     models.Int(1),
	})))
	require.NoError(t, store.Dispatch(models.SyncNodeDispatch("node-a", models.Instances{{ID: "i-1"}})))

	var buf bytes.Buffer
	require.NoError(t, printSnapshot(&buf, store.Snapshot()))

	out := buf.String()
	assert.Contains(t, out, `filter: name contains "web"`)
	assert.Contains(t, out, "(page 1/1, 1 instances)")
	assert.Contains(t, out, "node node-a (1 instances)")
}

func TestApplyPosition(t *testing.T) {
	cfg = &config.Config{Console: config.ConsoleConfig{PageSize: 20}}
	t.Cleanup(func() {
		cfg = nil
		watchName, watchPage, watchPageCount = "", 0, 0
	})

	store := console.NewStore()
	require.NoError(t, applyPosition(store))
	page, pageCount := store.Position()
	assert.Equal(t, 0, page)
	assert.Equal(t, 20, pageCount)

	watchName = "db"
	watchPageCount = 5
	require.NoError(t, applyPosition(store))
	_, pageCount = store.Position()
	assert.Equal(t, 5, pageCount)
	assert.Equal(t, "db", *store.Filter().Name)
}

func TestDefaultConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfig), 0644))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, loaded.Server.Port)
	assert.Equal(t, "nimbus", loaded.CouchDB.Database)
	assert.Equal(t, "nimbus", loaded.Events.SubjectPrefix)
	assert.Equal(t, 50, loaded.Console.PageSize)
}

func TestPrintScanReport(t *testing.T) {
	var buf bytes.Buffer
	err := printScanReport(&buf, &integrity.ScanReport{
		DocumentsScanned: 3,
		Issues: []integrity.Issue{
			{InstanceID: "b", Type: integrity.IssueTypeStaleIndex, Severity: integrity.SeverityLow, Repairable: true, Description: "stale"},
			{InstanceID: "a", Type: integrity.IssueTypeInvalidSchema, Severity: integrity.SeverityHigh, Description: "memory cannot be negative"},
		},
		Summary: integrity.ScanSummary{TotalIssues: 2, HealthScore: 63},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Health score:      63/100")
	assert.Less(t, strings.Index(out, "invalid_schema"), strings.Index(out, "stale_index"))
}

func TestPrintRepairResult(t *testing.T) {
	var buf bytes.Buffer
	plan := &integrity.RepairPlan{Skipped: []integrity.Issue{{}}}
	result := &integrity.RepairResult{
		DryRun:    true,
		Succeeded: 1,
		Results: []integrity.OperationResult{{
			Operation: integrity.RepairOperation{Type: integrity.OperationDelete, DocumentID: "import-a", Reason: "superseded"},
			Success:   true,
		}},
	}
	require.NoError(t, printRepairResult(&buf, plan, result))

	out := buf.String()
	assert.Contains(t, out, "Dry run")
	assert.Contains(t, out, "1 succeeded, 0 failed, 1 issues need manual review")
	assert.Contains(t, out, "import-a")
}
