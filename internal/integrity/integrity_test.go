package integrity

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/storage"
	"evalgo.org/nimbus/models"
)

type fakeStore struct {
	mu   sync.Mutex
	docs map[string]storage.InstanceDocument
	puts int
	dels int
}

func newFakeStore(docs ...storage.InstanceDocument) *fakeStore {
	s := &fakeStore{docs: make(map[string]storage.InstanceDocument)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) ListDocuments() ([]storage.InstanceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.InstanceDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) PutDocument(doc *storage.InstanceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	doc.Rev = "2-fake"
	s.docs[doc.ID] = *doc
	return nil
}

func (s *fakeStore) RemoveDocument(docID, rev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dels++
	if _, ok := s.docs[docID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.docs, docID)
	return nil
}

func cleanInstance(id, node string) models.Instance {
	return models.Instance{
		ID:           id,
		Name:         models.String("web-" + id),
		Node:         models.String(node),
		State:        models.String(models.StateStart),
		Memory:       models.Int(512),
		Processors:   models.Int(2),
		NetworkRoles: []string{},
	}
}

func document(docID string, inst models.Instance, modified string) storage.InstanceDocument {
	return storage.InstanceDocument{
		Context:      storage.DocumentContext,
		Type:         storage.DocumentType,
		ID:           docID,
		Rev:          "1-fake",
		Node:         inst.GetNode(),
		Name:         inst.GetName(),
		Instance:     inst,
		DateModified: modified,
	}
}

func issueTypes(report *ScanReport) []IssueType {
	var out []IssueType
	for _, issue := range report.Issues {
		out = append(out, issue.Type)
	}
	return out
}

func TestScan_Clean(t *testing.T) {
	store := newFakeStore(
		document("instance-a", cleanInstance("a", "n1"), "2024-01-01T00:00:00Z"),
		document("instance-b", cleanInstance("b", "n2"), "2024-01-01T00:00:00Z"),
	)

	report, err := NewService(store).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.DocumentsScanned)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 100, report.Summary.HealthScore)
	assert.NotEmpty(t, report.ID)
}

func TestScan_DetectsIssues(t *testing.T) {
	stale := document("instance-stale", cleanInstance("stale", "n1"), "")
	stale.Node = "old-node"

	small := cleanInstance("small", "n1")
	small.Memory = models.Int(128)
	small.NetworkRoles = nil

	invalid := cleanInstance("invalid", "n1")
	invalid.Memory = models.Int(-1)

	orphan := document("instance-orphan", cleanInstance("orphan", "n1"), "")
	orphan.Info = &models.Info{Instance: models.String("someone-else")}

	store := newFakeStore(
		stale,
		document("instance-small", small, ""),
		document("instance-invalid", invalid, ""),
		orphan,
		document("legacy-doc", cleanInstance("moved", "n1"), ""),
		document("legacy-empty", models.Instance{}, ""),
	)

	report, err := NewService(store).Scan(context.Background())
	require.NoError(t, err)

	byInstance := make(map[string][]IssueType)
	for _, issue := range report.Issues {
		byInstance[issue.InstanceID] = append(byInstance[issue.InstanceID], issue.Type)
	}

	assert.Equal(t, []IssueType{IssueTypeStaleIndex}, byInstance["stale"])
	assert.Equal(t, []IssueType{IssueTypeUnnormalized}, byInstance["small"])
	assert.Equal(t, []IssueType{IssueTypeInvalidSchema}, byInstance["invalid"])
	assert.Equal(t, []IssueType{IssueTypeOrphanedInfo}, byInstance["orphan"])
	assert.Equal(t, []IssueType{IssueTypeMisplaced}, byInstance["moved"])
	assert.Equal(t, []IssueType{IssueTypeMisplaced}, byInstance[""])

	assert.Equal(t, 6, report.Summary.TotalIssues)
	assert.Less(t, report.Summary.HealthScore, 100)
}

func TestScan_Duplicates(t *testing.T) {
	store := newFakeStore(
		document("instance-a", cleanInstance("a", "n1"), "2024-01-01T00:00:00Z"),
		document("import-a", cleanInstance("a", "n2"), "2024-02-01T00:00:00Z"),
	)

	report, err := NewService(store).Scan(context.Background())
	require.NoError(t, err)

	require.Contains(t, issueTypes(report), IssueTypeDuplicate)
	dup := report.Issues[0]
	assert.Equal(t, IssueTypeDuplicate, dup.Type)
	assert.Equal(t, "a", dup.InstanceID)
	assert.Equal(t, []string{"import-a", "instance-a"}, dup.DocumentIDs)
	assert.Equal(t, 1, report.Summary.ByType[IssueTypeDuplicate])
	assert.Equal(t, 1, report.Summary.ByType[IssueTypeMisplaced])
}

func TestRepair_LatestWinsMovesSurvivor(t *testing.T) {
	store := newFakeStore(
		document("instance-a", cleanInstance("a", "n1"), "2024-01-01T00:00:00Z"),
		document("import-a", cleanInstance("a", "n2"), "2024-02-01T00:00:00Z"),
	)
	svc := NewService(store)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)

	plan, err := svc.CreateRepairPlan(report, StrategyLatestWins)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 3)

	result, err := svc.ExecutePlan(ctx, plan, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)
	assert.Zero(t, result.Failed)

	// deletes of duplicates run before the survivor is written
	assert.Equal(t, OperationDelete, result.Results[0].Operation.Type)
	assert.Equal(t, "instance-a", result.Results[0].Operation.DocumentID)
	assert.Equal(t, OperationCreate, result.Results[1].Operation.Type)
	assert.Equal(t, "import-a", result.Results[2].Operation.DocumentID)

	docs, err := store.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "instance-a", docs[0].ID)
	assert.Equal(t, "n2", docs[0].Node)
	assert.Equal(t, "a", docs[0].Instance.ID)

	report, err = svc.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}

func TestRepair_OldestWinsKeepsCanonical(t *testing.T) {
	store := newFakeStore(
		document("instance-a", cleanInstance("a", "n1"), "2024-01-01T00:00:00Z"),
		document("import-a", cleanInstance("a", "n2"), "2024-02-01T00:00:00Z"),
	)
	svc := NewService(store)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)

	plan, err := svc.CreateRepairPlan(report, StrategyOldestWins)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, OperationDelete, plan.Operations[0].Type)
	assert.Equal(t, "import-a", plan.Operations[0].DocumentID)
}

func TestRepair_FixesDocuments(t *testing.T) {
	stale := document("instance-stale", cleanInstance("stale", "n1"), "")
	stale.Name = "old-name"

	small := cleanInstance("small", "n1")
	small.Processors = nil

	// invalid documents still get their index fixed but keep their values
	invalid := cleanInstance("invalid", "n1")
	invalid.Memory = models.Int(-1)
	invalidDoc := document("instance-invalid", invalid, "")
	invalidDoc.Node = "old-node"

	store := newFakeStore(stale, document("instance-small", small, ""), invalidDoc)
	svc := NewService(store)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)

	plan, err := svc.CreateRepairPlan(report, StrategyLatestWins)
	require.NoError(t, err)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, IssueTypeInvalidSchema, plan.Skipped[0].Type)
	require.Len(t, plan.Operations, 3)
	for _, op := range plan.Operations {
		assert.Equal(t, OperationUpdate, op.Type)
	}

	_, err = svc.ExecutePlan(ctx, plan, false)
	require.NoError(t, err)

	assert.Equal(t, "web-stale", store.docs["instance-stale"].Name)
	assert.Equal(t, 1, *store.docs["instance-small"].Instance.Processors)
	assert.Equal(t, "n1", store.docs["instance-invalid"].Node)
	assert.Equal(t, -1, *store.docs["instance-invalid"].Instance.Memory)
}

func TestRepair_OrphanedInfo(t *testing.T) {
	orphan := document("instance-o", cleanInstance("o", "n1"), "")
	orphan.Info = &models.Info{Instance: models.String("x"), Disks: []string{"d1"}}

	store := newFakeStore(orphan)
	svc := NewService(store)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)
	plan, err := svc.CreateRepairPlan(report, StrategyLatestWins)
	require.NoError(t, err)
	_, err = svc.ExecutePlan(ctx, plan, false)
	require.NoError(t, err)

	info := store.docs["instance-o"].Info
	require.NotNil(t, info)
	assert.Equal(t, "o", *info.Instance)
	assert.Equal(t, []string{"d1"}, info.Disks)
}

func TestRepair_DryRun(t *testing.T) {
	stale := document("instance-a", cleanInstance("a", "n1"), "")
	stale.Node = ""

	store := newFakeStore(stale, document("import-a", cleanInstance("a", "n1"), ""))
	svc := NewService(store)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)
	plan, err := svc.CreateRepairPlan(report, StrategyLatestWins)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Operations)

	result, err := svc.ExecutePlan(ctx, plan, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, len(plan.Operations), result.Succeeded)
	assert.Zero(t, store.puts)
	assert.Zero(t, store.dels)
	assert.Len(t, store.docs, 2)
}

func TestCreateRepairPlan_Errors(t *testing.T) {
	svc := NewService(newFakeStore())

	_, err := svc.CreateRepairPlan(&ScanReport{}, StrategyLatestWins)
	assert.Error(t, err)

	report, err := svc.Scan(context.Background())
	require.NoError(t, err)
	_, err = svc.CreateRepairPlan(report, "merge")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want ResolutionStrategy
		ok   bool
	}{
		{"latest_wins", StrategyLatestWins, true},
		{"oldest_wins", StrategyOldestWins, true},
		{"manual", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStrategy(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestAuditLogger(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(document("instance-a", cleanInstance("a", "n1"), ""))
	svc := NewService(store, WithAudit(NewAuditLogger(dir)))
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	require.NoError(t, err)
	plan, err := svc.CreateRepairPlan(report, StrategyLatestWins)
	require.NoError(t, err)
	_, err = svc.ExecutePlan(ctx, plan, true)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "integrity-audit-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"operation_type":"scan"`)
	assert.Contains(t, lines[1], `"operation_type":"repair"`)
}

func TestAuditLogger_Disabled(t *testing.T) {
	var a *AuditLogger
	assert.NoError(t, a.LogScan(&ScanReport{}))
	assert.NoError(t, NewAuditLogger("").LogExecution(&RepairResult{}))
}
