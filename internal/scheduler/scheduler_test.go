package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/integrity"
)

type fakeChecker struct {
	mu       sync.Mutex
	scans    int
	plans    int
	executed int
	issues   int
	scanErr  error
	strategy integrity.ResolutionStrategy
}

func (f *fakeChecker) Scan(ctx context.Context) (*integrity.ScanReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return &integrity.ScanReport{
		ID:      "scan",
		Summary: integrity.ScanSummary{TotalIssues: f.issues, HealthScore: 100 - f.issues},
	}, nil
}

func (f *fakeChecker) CreateRepairPlan(report *integrity.ScanReport, strategy integrity.ResolutionStrategy) (*integrity.RepairPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans++
	f.strategy = strategy
	return &integrity.RepairPlan{ID: "plan", Operations: []integrity.RepairOperation{{Type: integrity.OperationDelete}}}, nil
}

func (f *fakeChecker) ExecutePlan(ctx context.Context, plan *integrity.RepairPlan, dryRun bool) (*integrity.RepairResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !dryRun {
		f.executed++
	}
	return &integrity.RepairResult{PlanID: plan.ID, Succeeded: len(plan.Operations)}, nil
}

func (f *fakeChecker) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func TestRunOnce_ScanOnly(t *testing.T) {
	checker := &fakeChecker{issues: 3}
	var hooked *integrity.ScanReport
	s := New(checker, time.Minute, WithScanHook(func(r *integrity.ScanReport) { hooked = r }))

	report := s.RunOnce(context.Background())
	require.NotNil(t, report)
	assert.Same(t, report, hooked)
	assert.Same(t, report, s.LastReport())
	assert.Zero(t, checker.plans)
	assert.Zero(t, checker.executed)
}

func TestRunOnce_AutoRepair(t *testing.T) {
	checker := &fakeChecker{issues: 2}
	s := New(checker, time.Minute, WithAutoRepair(integrity.StrategyOldestWins))

	s.RunOnce(context.Background())
	assert.Equal(t, 1, checker.plans)
	assert.Equal(t, 1, checker.executed)
	assert.Equal(t, integrity.StrategyOldestWins, checker.strategy)
}

func TestRunOnce_CleanScanSkipsRepair(t *testing.T) {
	checker := &fakeChecker{}
	s := New(checker, time.Minute, WithAutoRepair(integrity.StrategyLatestWins))

	s.RunOnce(context.Background())
	assert.Zero(t, checker.plans)
}

func TestRunOnce_ScanError(t *testing.T) {
	checker := &fakeChecker{scanErr: errors.New("couchdb down")}
	s := New(checker, time.Minute)

	assert.Nil(t, s.RunOnce(context.Background()))
	assert.Nil(t, s.LastReport())
}

func TestStartStop(t *testing.T) {
	checker := &fakeChecker{}
	s := New(checker, 10*time.Millisecond)

	s.Start(context.Background())
	s.Start(context.Background()) // second start is ignored

	require.Eventually(t, func() bool { return checker.scanCount() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := checker.scanCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, checker.scanCount())

	s.Stop() // stopping twice is harmless
}

func TestStart_Disabled(t *testing.T) {
	checker := &fakeChecker{}
	s := New(checker, 0)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, checker.scanCount())
	s.Stop()
}
