package models

import (
	"encoding/json"
	"iter"
	"sort"
)

// Read-only views.
//
// InstanceRo, InstancesRo and InstancesNodeRo are snapshots: they are built
// from a deep copy of the source value and expose accessors only, so no
// code outside this package can change what a view returns. Mutating the
// source after taking a view does not affect the view, and every accessor
// that returns a pointer or slice returns a fresh copy.

// InstanceRo is a read-only view of an Instance.
type InstanceRo struct {
	inst Instance
}

// Ro returns a read-only snapshot of the instance.
func (i Instance) Ro() InstanceRo {
	return InstanceRo{inst: i.Clone()}
}

// Instance returns an owned, mutable copy of the viewed instance.
func (r InstanceRo) Instance() Instance {
	return r.inst.Clone()
}

func (r InstanceRo) ID() string { return r.inst.ID }
func (r InstanceRo) Organization() *string { return cloneString(r.inst.Organization) }
func (r InstanceRo) Zone() *string { return cloneString(r.inst.Zone) }
func (r InstanceRo) Node() *string { return cloneString(r.inst.Node) }
func (r InstanceRo) Image() *string { return cloneString(r.inst.Image) }
func (r InstanceRo) Status() *string { return cloneString(r.inst.Status) }
func (r InstanceRo) State() *string { return cloneString(r.inst.State) }
func (r InstanceRo) VMState() *string { return cloneString(r.inst.VMState) }
func (r InstanceRo) PublicIP() *string { return cloneString(r.inst.PublicIP) }
func (r InstanceRo) PublicIP6() *string { return cloneString(r.inst.PublicIP6) }
func (r InstanceRo) Name() *string { return cloneString(r.inst.Name) }
func (r InstanceRo) Memory() *int { return cloneInt(r.inst.Memory) }
func (r InstanceRo) Processors() *int { return cloneInt(r.inst.Processors) }
func (r InstanceRo) NetworkRoles() []string { return cloneStrings(r.inst.NetworkRoles) }
func (r InstanceRo) Count() *int { return cloneInt(r.inst.Count) }
func (r InstanceRo) GetName() string { return r.inst.GetName() }
func (r InstanceRo) GetNode() string { return r.inst.GetNode() }
func (r InstanceRo) GetStatus() string { return r.inst.GetStatus() }
func (r InstanceRo) Match(f Filter) bool { return f.Match(r.inst) }
func (r InstanceRo) MarshalJSON() ([]byte, error) { return json.Marshal(r.inst) }

// InstancesRo is a read-only view of an Instances collection.
type InstancesRo struct {
	items Instances
}

// Ro returns a read-only snapshot of the collection.
func (in Instances) Ro() InstancesRo {
	return InstancesRo{items: in.Clone()}
}

// Len returns the number of instances in the view.
func (r InstancesRo) Len() int {
	return len(r.items)
}

// At returns the instance at index i. It panics if i is out of range.
func (r InstancesRo) At(i int) InstanceRo {
	return InstanceRo{inst: r.items[i]}
}

// All iterates over the instances in order.
func (r InstancesRo) All() iter.Seq2[int, InstanceRo] {
	return func(yield func(int, InstanceRo) bool) {
		for i := range r.items {
			if !yield(i, InstanceRo{inst: r.items[i]}) {
				return
			}
		}
	}
}

// Find returns the first instance with the given ID.
func (r InstancesRo) Find(id string) (InstanceRo, bool) {
	inst, ok := r.items.Find(id)
	return InstanceRo{inst: inst}, ok
}

// Instances returns an owned, mutable copy of the collection.
func (r InstancesRo) Instances() Instances {
	if r.items == nil {
		return Instances{}
	}
	return r.items.Clone()
}

// MarshalJSON renders the view as a JSON array ([] when empty).
func (r InstancesRo) MarshalJSON() ([]byte, error) {
	if r.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.items)
}

// InstancesNodeRo is a read-only view of an InstancesNode mapping.
type InstancesNodeRo struct {
	nodes map[string]InstancesRo
}

// Ro returns a read-only snapshot of the mapping.
func (n InstancesNode) Ro() InstancesNodeRo {
	nodes := make(map[string]InstancesRo, len(n))
	for node, list := range n {
		nodes[node] = list.Ro()
	}
	return InstancesNodeRo{nodes: nodes}
}

// Len returns the number of nodes in the view.
func (r InstancesNodeRo) Len() int {
	return len(r.nodes)
}

// Get returns the instances listed for node.
func (r InstancesNodeRo) Get(node string) (InstancesRo, bool) {
	list, ok := r.nodes[node]
	return list, ok
}

// Nodes returns the node identifiers in sorted order.
func (r InstancesNodeRo) Nodes() []string {
	nodes := make([]string, 0, len(r.nodes))
	for node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// All iterates over the nodes in sorted order.
func (r InstancesNodeRo) All() iter.Seq2[string, InstancesRo] {
	return func(yield func(string, InstancesRo) bool) {
		for _, node := range r.Nodes() {
			if !yield(node, r.nodes[node]) {
				return
			}
		}
	}
}

// InstancesNode returns an owned, mutable copy of the mapping.
func (r InstancesNodeRo) InstancesNode() InstancesNode {
	out := make(InstancesNode, len(r.nodes))
	for node, list := range r.nodes {
		out[node] = list.Instances()
	}
	return out
}

// MarshalJSON renders the view as a JSON object of node -> instances.
func (r InstancesNodeRo) MarshalJSON() ([]byte, error) {
	if r.nodes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.nodes)
}
