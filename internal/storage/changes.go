package storage

import (
	"encoding/json"

	"eve.evalgo.org/db"

	"evalgo.org/nimbus/models"
)

// ChangeHandler receives an instance.change dispatch built from the
// CouchDB changes feed, together with the sequence of the change.
type ChangeHandler func(seq string, dispatch models.InstanceDispatch)

// WatchInstanceChanges listens for instance changes in real time and
// forwards each of them as an instance.change dispatch. Deleted instances
// are reported with the ID only. The feed starts after since, or at the
// current end of the database when since is empty. It blocks until the
// feed fails.
func (s *Storage) WatchInstanceChanges(since string, handler ChangeHandler) error {
	if since == "" {
		since = "now"
	}
	opts := db.ChangesFeedOptions{
		Since:       since,
		Feed:        "continuous",
		IncludeDocs: true,
		Heartbeat:   30000, // 30 seconds
	}

	return s.service.ListenChanges(opts, func(change db.Change) {
		if dispatch, ok := changeDispatch(change); ok {
			handler(change.Seq, dispatch)
		}
	})
}

// GetChangesSince retrieves all changes since a specific sequence, converted
// to dispatches. It returns the last sequence seen so callers can resume.
func (s *Storage) GetChangesSince(sequence string, limit int) ([]models.InstanceDispatch, string, error) {
	opts := db.ChangesFeedOptions{
		Since:       sequence,
		Feed:        "normal",
		IncludeDocs: true,
		Limit:       limit,
	}

	changes, lastSeq, err := s.service.GetChanges(opts)
	if err != nil {
		return nil, "", err
	}

	dispatches := make([]models.InstanceDispatch, 0, len(changes))
	for _, change := range changes {
		if dispatch, ok := changeDispatch(change); ok {
			dispatches = append(dispatches, dispatch)
		}
	}
	return dispatches, lastSeq, nil
}

// changeDispatch converts a db.Change into an instance.change dispatch.
// Changes to documents other than instances are skipped.
func changeDispatch(change db.Change) (models.InstanceDispatch, bool) {
	id, ok := InstanceID(change.ID)
	if !ok {
		return models.InstanceDispatch{}, false
	}

	if change.Deleted || len(change.Doc) == 0 {
		return models.ChangeDispatch(id, nil), true
	}

	var doc InstanceDocument
	if err := json.Unmarshal(change.Doc, &doc); err != nil {
		return models.InstanceDispatch{}, false
	}
	if doc.Type != DocumentType {
		return models.InstanceDispatch{}, false
	}

	inst := doc.Instance
	inst.ID = id
	return models.ChangeDispatch(id, &inst), true
}
