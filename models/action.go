package models

import "fmt"

// ActionType identifies the kind of change carried by an InstanceDispatch.
// The set is closed: only the five constants below are valid.
type ActionType string

const (
	// ActionSync replaces the current page of instances.
	ActionSync ActionType = "instance.sync"

	// ActionSyncNode replaces the instances listed for a single node.
	ActionSyncNode ActionType = "instance.sync_node"

	// ActionTraverse moves to another page of the instance list.
	ActionTraverse ActionType = "instance.traverse"

	// ActionFilter sets or clears the instance list filter.
	ActionFilter ActionType = "instance.filter"

	// ActionChange signals that one or more instances changed server side.
	ActionChange ActionType = "instance.change"
)

var actionTypes = []ActionType{
	ActionSync,
	ActionSyncNode,
	ActionTraverse,
	ActionFilter,
	ActionChange,
}

// ActionTypes returns every known action type in declaration order.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(actionTypes))
	copy(out, actionTypes)
	return out
}

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	for _, known := range actionTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t ActionType) String() string {
	return string(t)
}

// ParseActionType converts a wire string into an ActionType.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown instance action type %q", s)
	}
	return t, nil
}
