package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"eve.evalgo.org/db"

	"evalgo.org/nimbus/models"
)

// JSON-LD identity of instance documents.
const (
	DocumentContext = "https://schema.org"
	DocumentType    = "Instance"

	docIDPrefix = "instance-"
)

// InstanceDocument is the CouchDB representation of an instance. Node and
// Name are copied to the top level so the views and Mango indexes can use
// them; the instance itself is stored unchanged.
type InstanceDocument struct {
	Context      string          `json:"@context"`
	Type         string          `json:"@type"`
	ID           string          `json:"@id" couchdb:"_id"`
	Rev          string          `json:"_rev,omitempty" couchdb:"_rev"`
	Node         string          `json:"node,omitempty" couchdb:"index"`
	Name         string          `json:"name,omitempty" couchdb:"index"`
	Instance     models.Instance `json:"instance"`
	Info         *models.Info    `json:"info,omitempty"`
	DateModified string          `json:"dateModified,omitempty"`
}

// DocumentID returns the CouchDB document ID for an instance ID.
func DocumentID(instanceID string) string {
	return docIDPrefix + instanceID
}

// InstanceID returns the instance ID encoded in a document ID, and whether
// docID is an instance document ID at all.
func InstanceID(docID string) (string, bool) {
	if !strings.HasPrefix(docID, docIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(docID, docIDPrefix), true
}

// newInstanceDocument wraps an instance for storage.
func newInstanceDocument(inst models.Instance) *InstanceDocument {
	doc := &InstanceDocument{
		Context: DocumentContext,
		Type:    DocumentType,
		ID:      DocumentID(inst.ID),
	}
	doc.setInstance(inst)
	return doc
}

func (d *InstanceDocument) setInstance(inst models.Instance) {
	d.Instance = inst.Clone()
	d.Node = inst.GetNode()
	d.Name = inst.GetName()
	d.DateModified = time.Now().UTC().Format(time.RFC3339)
}

// SaveInstance creates or replaces an instance. The stored Info is kept.
func (s *Storage) SaveInstance(inst *models.Instance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("instance id is required")
	}

	doc, err := s.getDocument(inst.ID)
	switch {
	case err == nil:
		doc.setInstance(*inst)
	case isNotFound(err):
		doc = newInstanceDocument(*inst)
	default:
		return err
	}

	return s.saveDocument(doc)
}

// saveDocument writes doc and retries once with the current revision when
// CouchDB reports a conflict.
func (s *Storage) saveDocument(doc *InstanceDocument) error {
	resp, err := s.service.SaveGenericDocument(doc)
	if err != nil && isConflict(err) {
		instanceID, _ := InstanceID(doc.ID)
		existing, getErr := s.getDocument(instanceID)
		if getErr == nil {
			s.log.WithField("instance", instanceID).Debug("save conflict, retrying with current revision")
			doc.Rev = existing.Rev
			resp, err = s.service.SaveGenericDocument(doc)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", doc.Instance.ID, err)
	}

	doc.Rev = resp.Rev
	return nil
}

// getDocument loads the stored document of an instance.
func (s *Storage) getDocument(instanceID string) (*InstanceDocument, error) {
	var doc InstanceDocument
	if err := s.service.GetGenericDocument(DocumentID(instanceID), &doc); err != nil {
		return nil, mapError(err, instanceID)
	}
	return &doc, nil
}

// GetInstance retrieves an instance by ID.
func (s *Storage) GetInstance(id string) (*models.Instance, error) {
	doc, err := s.getDocument(id)
	if err != nil {
		return nil, err
	}
	inst := doc.Instance.Clone()
	inst.ID = id
	return &inst, nil
}

// DeleteInstance deletes an instance and its info.
func (s *Storage) DeleteInstance(id string) error {
	doc, err := s.getDocument(id)
	if err != nil {
		return err
	}

	s.log.WithField("instance", id).Debugf("deleting instance (rev: %s)", doc.Rev)
	if err := s.service.DeleteDocument(doc.ID, doc.Rev); err != nil {
		return fmt.Errorf("failed to delete instance: %w", mapError(err, id))
	}
	return nil
}

// ListInstances retrieves all instances matching the filter, ordered by
// name and then ID.
func (s *Storage) ListInstances(filter models.Filter) (models.Instances, error) {
	query := db.NewQueryBuilder().
		Where("@type", "$eq", DocumentType).
		Build()

	docs, err := db.FindTyped[InstanceDocument](s.service, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	s.log.Debugf("ListInstances returned %d documents", len(docs))

	instances := make(models.Instances, 0, len(docs))
	for _, inst := range instancesFromDocuments(docs) {
		if filter.Match(inst) {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

// GetInstancesByNode retrieves all instances running on a node. An empty
// node selects the instances without a node.
func (s *Storage) GetInstancesByNode(node string) (models.Instances, error) {
	result, err := s.service.QueryView(designName, viewInstancesByNode, db.ViewOptions{
		Key:         node,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query instances of node %s: %w", node, err)
	}

	docs := make([]InstanceDocument, 0, len(result.Rows))
	for _, row := range result.Rows {
		var doc InstanceDocument
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			continue // Skip invalid documents
		}
		docs = append(docs, doc)
	}

	return instancesFromDocuments(docs), nil
}

// GroupInstancesByNode returns every instance grouped by node.
func (s *Storage) GroupInstancesByNode() (models.InstancesNode, error) {
	instances, err := s.ListInstances(models.Filter{})
	if err != nil {
		return nil, err
	}
	return models.GroupByNode(instances), nil
}

// CountInstances returns the total number of stored instances.
func (s *Storage) CountInstances() (int, error) {
	return s.service.Count(map[string]interface{}{
		"@type": DocumentType,
	})
}

// CountInstancesByNode returns the number of instances on each node.
func (s *Storage) CountInstancesByNode() (map[string]int, error) {
	result, err := s.service.QueryView(designName, viewInstanceCountByNode, db.ViewOptions{
		Reduce: true,
		Group:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count instances by node: %w", err)
	}

	counts := make(map[string]int, len(result.Rows))
	for _, row := range result.Rows {
		node, _ := row.Key.(string)
		if n, ok := row.Value.(float64); ok {
			counts[node] = int(n)
		}
	}
	return counts, nil
}

// SaveInfo stores the auxiliary info of an existing instance.
func (s *Storage) SaveInfo(id string, info models.Info) error {
	doc, err := s.getDocument(id)
	if err != nil {
		return err
	}

	info = info.Clone()
	info.Instance = models.String(id)
	doc.Info = &info
	doc.DateModified = time.Now().UTC().Format(time.RFC3339)

	return s.saveDocument(doc)
}

// GetInfo retrieves the auxiliary info of an instance. An instance without
// stored info yields an Info carrying only the instance ID.
func (s *Storage) GetInfo(id string) (*models.Info, error) {
	doc, err := s.getDocument(id)
	if err != nil {
		return nil, err
	}

	info := models.Info{Instance: models.String(id)}
	if doc.Info != nil {
		info = doc.Info.Clone()
		info.Instance = models.String(id)
	}
	return &info, nil
}

// instancesFromDocuments unwraps documents, keeping the last document per
// instance ID, and sorts the result by name and ID.
func instancesFromDocuments(docs []InstanceDocument) models.Instances {
	byID := make(map[string]models.Instance, len(docs))
	for _, doc := range docs {
		id, ok := InstanceID(doc.ID)
		if !ok {
			id = doc.Instance.ID
		}
		if id == "" {
			continue
		}
		inst := doc.Instance
		inst.ID = id
		byID[id] = inst
	}

	instances := make(models.Instances, 0, len(byID))
	for _, inst := range byID {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	return instances
}

func sortInstances(instances models.Instances) {
	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if a.GetName() != b.GetName() {
			return a.GetName() < b.GetName()
		}
		return a.ID < b.ID
	})
}

// ListDocuments returns every stored instance document as is, including
// documents whose ID does not follow the instance ID scheme.
func (s *Storage) ListDocuments() ([]InstanceDocument, error) {
	query := db.NewQueryBuilder().
		Where("@type", "$eq", DocumentType).
		Build()

	docs, err := db.FindTyped[InstanceDocument](s.service, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance documents: %w", err)
	}
	return docs, nil
}

// PutDocument writes a document unchanged apart from its revision.
func (s *Storage) PutDocument(doc *InstanceDocument) error {
	return s.saveDocument(doc)
}

// RemoveDocument deletes a document by its CouchDB ID and revision.
func (s *Storage) RemoveDocument(docID, rev string) error {
	if err := s.service.DeleteDocument(docID, rev); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, mapError(err, docID))
	}
	return nil
}
