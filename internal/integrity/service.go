package integrity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/internal/storage"
	"evalgo.org/nimbus/internal/validation"
	"evalgo.org/nimbus/models"
)

// Store is the document access the integrity service needs.
// *storage.Storage implements it.
type Store interface {
	ListDocuments() ([]storage.InstanceDocument, error)
	PutDocument(doc *storage.InstanceDocument) error
	RemoveDocument(docID, rev string) error
}

// Service scans instance documents and repairs what it can.
type Service struct {
	store     Store
	validator *validation.Validator
	audit     *AuditLogger
	log       logrus.FieldLogger

	// documents of the last scan, by document ID, used to build plans
	scanned map[string]storage.InstanceDocument
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.log = logger.WithField("component", "integrity") }
}

// WithAudit records scans and repairs with a.
func WithAudit(a *AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// NewService creates an integrity service on top of store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: validation.New(),
		audit:     NewAuditLogger(""),
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan loads every instance document and reports the issues found.
func (s *Service) Scan(ctx context.Context) (*ScanReport, error) {
	start := time.Now()

	docs, err := s.store.ListDocuments()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.scanned = make(map[string]storage.InstanceDocument, len(docs))
	for _, doc := range docs {
		s.scanned[doc.ID] = doc
	}

	issues := s.scanDuplicates(docs)
	for _, doc := range docs {
		issues = append(issues, s.checkDocument(doc)...)
	}

	report := &ScanReport{
		ID:               uuid.New().String(),
		Timestamp:        start,
		Duration:         time.Since(start),
		DocumentsScanned: len(docs),
		Issues:           issues,
		Summary:          summarize(issues, len(docs)),
	}

	s.log.WithFields(logrus.Fields{
		"scan":      report.ID,
		"documents": report.DocumentsScanned,
		"issues":    report.Summary.TotalIssues,
	}).Info("integrity scan finished")

	if err := s.audit.LogScan(report); err != nil {
		s.log.WithError(err).Warn("failed to write audit entry")
	}
	return report, nil
}

// instanceIDOf returns the instance a document describes. The document ID
// wins over the embedded instance ID, matching how the storage reads it.
func instanceIDOf(doc storage.InstanceDocument) string {
	if id, ok := storage.InstanceID(doc.ID); ok {
		return id
	}
	return doc.Instance.ID
}

// scanDuplicates finds instances stored in more than one document.
func (s *Service) scanDuplicates(docs []storage.InstanceDocument) []Issue {
	byInstance := make(map[string][]string)
	for _, doc := range docs {
		id := instanceIDOf(doc)
		if id == "" {
			continue
		}
		byInstance[id] = append(byInstance[id], doc.ID)
	}

	ids := make([]string, 0, len(byInstance))
	for id, docIDs := range byInstance {
		if len(docIDs) > 1 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var issues []Issue
	for _, id := range ids {
		docIDs := byInstance[id]
		sort.Strings(docIDs)
		issues = append(issues, Issue{
			ID:          uuid.New().String(),
			Type:        IssueTypeDuplicate,
			Severity:    SeverityHigh,
			InstanceID:  id,
			DocumentIDs: docIDs,
			Description: fmt.Sprintf("instance %s is stored in %d documents", id, len(docIDs)),
			Repairable:  true,
		})
	}
	return issues
}

// checkDocument reports the problems of a single document.
func (s *Service) checkDocument(doc storage.InstanceDocument) []Issue {
	var issues []Issue
	id := instanceIDOf(doc)

	add := func(typ IssueType, sev Severity, repairable bool, format string, args ...interface{}) {
		issues = append(issues, Issue{
			ID:          uuid.New().String(),
			Type:        typ,
			Severity:    sev,
			InstanceID:  id,
			DocumentIDs: []string{doc.ID},
			Description: fmt.Sprintf(format, args...),
			Repairable:  repairable,
		})
	}

	if id == "" {
		add(IssueTypeMisplaced, SeverityHigh, false, "document %s has no instance id", doc.ID)
		return issues
	}
	if doc.ID != storage.DocumentID(id) {
		add(IssueTypeMisplaced, SeverityMedium, true, "document %s should be stored as %s", doc.ID, storage.DocumentID(id))
	}

	if doc.Node != doc.Instance.GetNode() || doc.Name != doc.Instance.GetName() {
		add(IssueTypeStaleIndex, SeverityLow, true, "indexed node/name %q/%q differ from instance %q/%q",
			doc.Node, doc.Name, doc.Instance.GetNode(), doc.Instance.GetName())
	}

	inst := doc.Instance
	inst.ID = id
	if errs := s.validator.CheckInstance(inst, true); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Message)
		}
		add(IssueTypeInvalidSchema, SeverityHigh, false, "%s", strings.Join(msgs, "; "))
	} else if !normalized(inst) {
		add(IssueTypeUnnormalized, SeverityLow, true, "state is unset or memory, processors or network roles are below the defaults")
	}

	if doc.Info != nil && doc.Info.Instance != nil && *doc.Info.Instance != id {
		add(IssueTypeOrphanedInfo, SeverityMedium, true, "info names instance %s", *doc.Info.Instance)
	}

	return issues
}

func normalized(inst models.Instance) bool {
	n := inst
	validation.Normalize(&n)
	return inst.GetState() != "" &&
		equalInt(n.Memory, inst.Memory) &&
		equalInt(n.Processors, inst.Processors) &&
		inst.NetworkRoles != nil
}

func equalInt(a, b *int) bool {
	return a != nil && b != nil && *a == *b
}

// summarize aggregates issues. Each high issue costs 10 points, medium 5
// and low 1, relative to the number of documents.
func summarize(issues []Issue, documents int) ScanSummary {
	sum := ScanSummary{
		TotalIssues: len(issues),
		ByType:      make(map[IssueType]int),
		BySeverity:  make(map[Severity]int),
		HealthScore: 100,
	}

	penalty := 0
	for _, issue := range issues {
		sum.ByType[issue.Type]++
		sum.BySeverity[issue.Severity]++
		switch issue.Severity {
		case SeverityHigh:
			penalty += 10
		case SeverityMedium:
			penalty += 5
		default:
			penalty++
		}
	}

	if documents > 0 && penalty > 0 {
		score := 100 - penalty*10/documents
		if score < 0 {
			score = 0
		}
		sum.HealthScore = score
	}
	return sum
}
