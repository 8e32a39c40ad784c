package models

import "encoding/json"

// InstanceDispatch describes a requested or completed change to the
// instance state held by a console. Type is one of the ActionType values by
// convention; it is kept as a plain string on the wire so that unknown
// types from newer servers still decode.
//
// Example JSON representation:
//
//	{
//	  "type": "instance.filter",
//	  "data": {"filter": {"name": "prod"}}
//	}
type InstanceDispatch struct {
	Type string        `json:"type"`
	Data *DispatchData `json:"data,omitempty"`
}

// DispatchData is the optional payload of an InstanceDispatch. Which fields
// are meaningful depends on the action type.
type DispatchData struct {
	ID       *string   `json:"id,omitempty"`
	Node     *string   `json:"node,omitempty"`
	Instance *Instance `json:"instance,omitempty"`

	// Instances is nil when absent; an empty page is sent as []
	Instances Instances `json:"instances,omitempty"`

	Page      *int    `json:"page,omitempty"`
	PageCount *int    `json:"pageCount,omitempty"`
	Filter    *Filter `json:"filter,omitempty"`
	Count     *int    `json:"count,omitempty"`
}

type dispatchDataAlias DispatchData

// MarshalJSON keeps an empty but present Instances list as [] on the wire.
func (d DispatchData) MarshalJSON() ([]byte, error) {
	var instances *Instances
	if d.Instances != nil {
		instances = &d.Instances
	}
	return json.Marshal(struct {
		dispatchDataAlias
		Instances *Instances `json:"instances,omitempty"`
	}{
		dispatchDataAlias: dispatchDataAlias(d),
		Instances:         instances,
	})
}

// Clone returns a deep copy of the payload.
func (d DispatchData) Clone() DispatchData {
	out := DispatchData{
		ID:        cloneString(d.ID),
		Node:      cloneString(d.Node),
		Instances: d.Instances.Clone(),
		Page:      cloneInt(d.Page),
		PageCount: cloneInt(d.PageCount),
		Count:     cloneInt(d.Count),
	}
	if d.Instance != nil {
		inst := d.Instance.Clone()
		out.Instance = &inst
	}
	if d.Filter != nil {
		f := Filter{Name: cloneString(d.Filter.Name)}
		out.Filter = &f
	}
	return out
}

// NewDispatch builds a dispatch message for a known action type.
func NewDispatch(action ActionType, data *DispatchData) InstanceDispatch {
	return InstanceDispatch{
		Type: string(action),
		Data: data,
	}
}

// Action returns the typed action and whether it is one of the known types.
func (d InstanceDispatch) Action() (ActionType, bool) {
	t := ActionType(d.Type)
	return t, t.Valid()
}

// ChangeDispatch builds an instance.change message for a single instance.
// inst may be nil when only the ID is known (e.g. after a delete).
func ChangeDispatch(id string, inst *Instance) InstanceDispatch {
	data := &DispatchData{ID: String(id)}
	if inst != nil {
		c := inst.Clone()
		data.Instance = &c
	}
	return NewDispatch(ActionChange, data)
}

// SyncNodeDispatch builds an instance.sync_node message carrying the full
// instance list of a node.
func SyncNodeDispatch(node string, instances Instances) InstanceDispatch {
	if instances == nil {
		instances = Instances{}
	}
	return NewDispatch(ActionSyncNode, &DispatchData{
		Node:      String(node),
		Instances: instances.Clone(),
		Count:     Int(len(instances)),
	})
}
