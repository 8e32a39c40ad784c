package integrity

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/storage"
	"evalgo.org/nimbus/internal/validation"
	"evalgo.org/nimbus/models"
)

// CreateRepairPlan generates the operations resolving the repairable issues
// of report. report must be the last scan of this service.
func (s *Service) CreateRepairPlan(report *ScanReport, strategy ResolutionStrategy) (*RepairPlan, error) {
	if s.scanned == nil {
		return nil, fmt.Errorf("no scan to plan from")
	}
	if _, ok := ParseStrategy(string(strategy)); !ok {
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	plan := &RepairPlan{
		ID:         uuid.New().String(),
		ScanID:     report.ID,
		Timestamp:  time.Now(),
		Strategy:   strategy,
		Operations: []RepairOperation{},
	}

	// instances with something to repair, and the documents that fail validation
	targets := make(map[string]string)
	invalid := make(map[string]bool)
	for _, issue := range report.Issues {
		if !issue.Repairable {
			plan.Skipped = append(plan.Skipped, issue)
			if issue.Type == IssueTypeInvalidSchema {
				for _, docID := range issue.DocumentIDs {
					invalid[docID] = true
				}
			}
			continue
		}
		if _, ok := targets[issue.InstanceID]; !ok {
			targets[issue.InstanceID] = issue.ID
		}
	}

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		plan.Operations = append(plan.Operations, s.planInstance(id, targets[id], strategy, invalid)...)
	}

	s.log.WithFields(logrus.Fields{
		"plan":       plan.ID,
		"operations": len(plan.Operations),
		"skipped":    len(plan.Skipped),
	}).Info("repair plan created")

	return plan, nil
}

// planInstance keeps one document of an instance under its canonical ID and
// removes the others.
func (s *Service) planInstance(id, issueID string, strategy ResolutionStrategy, invalid map[string]bool) []RepairOperation {
	var docs []storage.InstanceDocument
	for _, doc := range s.scanned {
		if instanceIDOf(doc) == id {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	survivor := chooseSurvivor(docs, id, strategy)

	var ops []RepairOperation
	for _, doc := range docs {
		if doc.ID == survivor.ID {
			continue
		}
		ops = append(ops, RepairOperation{
			IssueID:    issueID,
			Type:       OperationDelete,
			DocumentID: doc.ID,
			Rev:        doc.Rev,
			Reason:     fmt.Sprintf("superseded by %s (%s)", survivor.ID, strategy),
			stage:      stageDedupe,
		})
	}

	fixed, changed := fixDocument(survivor, id, !invalid[survivor.ID])
	switch {
	case survivor.ID != fixed.ID:
		// a duplicate holding the canonical ID is deleted before this write
		fixed.Rev = ""
		ops = append(ops,
			RepairOperation{
				IssueID:    issueID,
				Type:       OperationCreate,
				DocumentID: fixed.ID,
				Reason:     fmt.Sprintf("move %s to its canonical id", survivor.ID),
				document:   &fixed,
				stage:      stageWrite,
			},
			RepairOperation{
				IssueID:    issueID,
				Type:       OperationDelete,
				DocumentID: survivor.ID,
				Rev:        survivor.Rev,
				Reason:     "moved to " + fixed.ID,
				stage:      stageCleanup,
			},
		)
	case changed:
		ops = append(ops, RepairOperation{
			IssueID:    issueID,
			Type:       OperationUpdate,
			DocumentID: fixed.ID,
			Rev:        fixed.Rev,
			Reason:     "rewrite indexed fields, defaults and info",
			document:   &fixed,
			stage:      stageWrite,
		})
	}

	return ops
}

// chooseSurvivor picks the document to keep. Equal timestamps prefer the
// canonical document ID.
func chooseSurvivor(docs []storage.InstanceDocument, id string, strategy ResolutionStrategy) storage.InstanceDocument {
	canonical := storage.DocumentID(id)
	sort.SliceStable(docs, func(i, j int) bool {
		ti, tj := modified(docs[i]), modified(docs[j])
		if !ti.Equal(tj) {
			if strategy == StrategyOldestWins {
				return ti.Before(tj)
			}
			return ti.After(tj)
		}
		if (docs[i].ID == canonical) != (docs[j].ID == canonical) {
			return docs[i].ID == canonical
		}
		return docs[i].ID < docs[j].ID
	})
	return docs[0]
}

func modified(doc storage.InstanceDocument) time.Time {
	t, err := time.Parse(time.RFC3339, doc.DateModified)
	if err != nil {
		return time.Time{}
	}
	return t
}

// fixDocument returns doc stored under the canonical ID of id with its
// indexed fields, info and, when normalize is set, defaults rewritten.
func fixDocument(doc storage.InstanceDocument, id string, normalize bool) (storage.InstanceDocument, bool) {
	fixed := doc
	fixed.ID = storage.DocumentID(id)
	fixed.Instance = doc.Instance.Clone()
	fixed.Instance.ID = id
	if normalize {
		validation.Normalize(&fixed.Instance)
	}
	fixed.Node = fixed.Instance.GetNode()
	fixed.Name = fixed.Instance.GetName()

	if doc.Info != nil && doc.Info.Instance != nil && *doc.Info.Instance != id {
		info := *doc.Info
		info.Instance = models.String(id)
		fixed.Info = &info
	}

	changed := !reflect.DeepEqual(fixed, doc)
	if changed {
		fixed.DateModified = time.Now().UTC().Format(time.RFC3339)
	}
	return fixed, changed
}

// ExecutePlan applies plan. With dryRun set nothing is written and every
// operation is reported as successful.
func (s *Service) ExecutePlan(ctx context.Context, plan *RepairPlan, dryRun bool) (*RepairResult, error) {
	result := &RepairResult{
		PlanID:    plan.ID,
		DryRun:    dryRun,
		StartTime: time.Now(),
		Results:   make([]OperationResult, 0, len(plan.Operations)),
	}

	for _, op := range ordered(plan.Operations) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := OperationResult{Operation: op, Success: true}
		if !dryRun {
			if err := s.apply(op); err != nil {
				res.Success = false
				res.Error = err.Error()
				s.log.WithError(err).WithField("document", op.DocumentID).Warn("repair operation failed")
			}
		}

		if res.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, res)
	}

	result.EndTime = time.Now()
	if err := s.audit.LogExecution(result); err != nil {
		s.log.WithError(err).Warn("failed to write audit entry")
	}
	return result, nil
}

// ordered runs deletes of duplicates before the writes so a canonical ID
// held by a losing duplicate is free when the survivor moves there.
func ordered(ops []RepairOperation) []RepairOperation {
	out := make([]RepairOperation, len(ops))
	copy(out, ops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].stage < out[j].stage })
	return out
}

func (s *Service) apply(op RepairOperation) error {
	switch op.Type {
	case OperationDelete:
		return s.store.RemoveDocument(op.DocumentID, op.Rev)
	case OperationCreate, OperationUpdate:
		if op.document == nil {
			return fmt.Errorf("operation on %s has no document", op.DocumentID)
		}
		doc := *op.document
		return s.store.PutDocument(&doc)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}
