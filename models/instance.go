package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Instance represents the observable attributes of a compute instance.
//
// ID is the only required field. Every other field is optional and uses a
// nil pointer (or a nil slice for NetworkRoles) to mean "absent", so that a
// partial update can be told apart from a value that is present but empty.
// Values such as State, VMState and the IP addresses are kept as opaque
// strings; see status.go for the values the server is known to produce.
//
// Example JSON representation:
//
//	{
//	  "id": "5f1c0c7e8b",
//	  "organization": "org-01",
//	  "zone": "us-west-1a",
//	  "node": "node-01",
//	  "state": "start",
//	  "vm_state": "running",
//	  "status": "Running",
//	  "name": "web-01",
//	  "memory": 2048,
//	  "processors": 2,
//	  "network_roles": ["web"]
//	}
type Instance struct {
	// ID is the unique instance identifier
	ID string `json:"id"`

	Organization *string `json:"organization,omitempty"`
	Zone         *string `json:"zone,omitempty"`
	Node         *string `json:"node,omitempty"`
	Image        *string `json:"image,omitempty"`

	// Status is the human readable status shown by the console
	Status *string `json:"status,omitempty"`

	// State is the requested state (start, stop, restart, destroy)
	State *string `json:"state,omitempty"`

	// VMState is the state reported by the hypervisor
	VMState *string `json:"vm_state,omitempty"`

	PublicIP  *string `json:"public_ip,omitempty"`
	PublicIP6 *string `json:"public_ip6,omitempty"`
	Name      *string `json:"name,omitempty"`

	// Memory is the configured memory in megabytes
	Memory *int `json:"memory,omitempty"`

	// Processors is the configured number of virtual CPUs
	Processors *int `json:"processors,omitempty"`

	// NetworkRoles is nil when absent and empty when present with no roles
	NetworkRoles []string `json:"network_roles,omitempty"`

	// Count is set on aggregated records (e.g. instances created as a group)
	Count *int `json:"count,omitempty"`
}

type instanceAlias Instance

// MarshalJSON keeps an empty but present NetworkRoles as [] on the wire.
func (i Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		instanceAlias
		NetworkRoles *[]string `json:"network_roles,omitempty"`
	}{
		instanceAlias: instanceAlias(i),
		NetworkRoles:  presentSlice(i.NetworkRoles),
	})
}

func (i Instance) GetOrganization() string { return deref(i.Organization) }
func (i Instance) GetZone() string { return deref(i.Zone) }
func (i Instance) GetNode() string { return deref(i.Node) }
func (i Instance) GetImage() string { return deref(i.Image) }
func (i Instance) GetStatus() string { return deref(i.Status) }
func (i Instance) GetState() string { return deref(i.State) }
func (i Instance) GetVMState() string { return deref(i.VMState) }
func (i Instance) GetPublicIP() string { return deref(i.PublicIP) }
func (i Instance) GetPublicIP6() string { return deref(i.PublicIP6) }
func (i Instance) GetName() string { return deref(i.Name) }
func (i Instance) GetMemory() int { return derefInt(i.Memory) }
func (i Instance) GetProcessors() int { return derefInt(i.Processors) }
func (i Instance) GetCount() int { return derefInt(i.Count) }

// Clone returns a deep copy of the instance. The copy shares no pointers
// or backing arrays with i.
func (i Instance) Clone() Instance {
	return Instance{
		ID:           i.ID,
		Organization: cloneString(i.Organization),
		Zone:         cloneString(i.Zone),
		Node:         cloneString(i.Node),
		Image:        cloneString(i.Image),
		Status:       cloneString(i.Status),
		State:        cloneString(i.State),
		VMState:      cloneString(i.VMState),
		PublicIP:     cloneString(i.PublicIP),
		PublicIP6:    cloneString(i.PublicIP6),
		Name:         cloneString(i.Name),
		Memory:       cloneInt(i.Memory),
		Processors:   cloneInt(i.Processors),
		NetworkRoles: cloneStrings(i.NetworkRoles),
		Count:        cloneInt(i.Count),
	}
}

// Merge applies the fields present in update on top of i. Absent fields in
// update leave the current value untouched. The ID is never changed.
func (i *Instance) Merge(update Instance) {
	update = update.Clone()

	mergeString(&i.Organization, update.Organization)
	mergeString(&i.Zone, update.Zone)
	mergeString(&i.Node, update.Node)
	mergeString(&i.Image, update.Image)
	mergeString(&i.Status, update.Status)
	mergeString(&i.State, update.State)
	mergeString(&i.VMState, update.VMState)
	mergeString(&i.PublicIP, update.PublicIP)
	mergeString(&i.PublicIP6, update.PublicIP6)
	mergeString(&i.Name, update.Name)
	mergeInt(&i.Memory, update.Memory)
	mergeInt(&i.Processors, update.Processors)
	mergeInt(&i.Count, update.Count)

	if update.NetworkRoles != nil {
		i.NetworkRoles = update.NetworkRoles
	}
}

// Filter is a query criterion for the instance list.
type Filter struct {
	Name *string `json:"name,omitempty"`
}

// IsEmpty reports whether the filter carries no criteria.
func (f Filter) IsEmpty() bool {
	return f.Name == nil || *f.Name == ""
}

// Match reports whether inst satisfies the filter. The name criterion is a
// case-insensitive substring match; an empty filter matches everything.
func (f Filter) Match(inst Instance) bool {
	if f.IsEmpty() {
		return true
	}
	return strings.Contains(
		strings.ToLower(inst.GetName()),
		strings.ToLower(*f.Name),
	)
}

// Info carries auxiliary descriptive metadata for an instance.
type Info struct {
	Instance      *string  `json:"instance,omitempty"`
	FirewallRules []string `json:"firewall_rules,omitempty"`
	Disks         []string `json:"disks,omitempty"`
}

type infoAlias Info

// MarshalJSON keeps empty but present sequences as [] on the wire.
func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		infoAlias
		FirewallRules *[]string `json:"firewall_rules,omitempty"`
		Disks         *[]string `json:"disks,omitempty"`
	}{
		infoAlias:     infoAlias(i),
		FirewallRules: presentSlice(i.FirewallRules),
		Disks:         presentSlice(i.Disks),
	})
}

// Clone returns a deep copy of the info record.
func (i Info) Clone() Info {
	return Info{
		Instance:      cloneString(i.Instance),
		FirewallRules: cloneStrings(i.FirewallRules),
		Disks:         cloneStrings(i.Disks),
	}
}

// Instances is an ordered collection of instances. Duplicate IDs are
// permitted.
type Instances []Instance

// Clone returns a deep copy of the collection. A nil collection stays nil.
func (in Instances) Clone() Instances {
	if in == nil {
		return nil
	}
	out := make(Instances, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Filter returns the instances matching f, preserving order.
func (in Instances) Filter(f Filter) Instances {
	out := make(Instances, 0, len(in))
	for _, inst := range in {
		if f.Match(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// Find returns the first instance with the given ID.
func (in Instances) Find(id string) (Instance, bool) {
	for _, inst := range in {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// IDs returns the instance IDs in order.
func (in Instances) IDs() []string {
	ids := make([]string, len(in))
	for i, inst := range in {
		ids[i] = inst.ID
	}
	return ids
}

// InstancesNode groups instances by the identifier of the node they run on.
// Keys are not validated against known nodes.
type InstancesNode map[string]Instances

// Nodes returns the node identifiers in sorted order.
func (n InstancesNode) Nodes() []string {
	nodes := make([]string, 0, len(n))
	for node := range n {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Clone returns a deep copy of the mapping.
func (n InstancesNode) Clone() InstancesNode {
	if n == nil {
		return nil
	}
	out := make(InstancesNode, len(n))
	for node, list := range n {
		out[node] = list.Clone()
	}
	return out
}

// MarshalJSON renders nil instance lists as [] so every key keeps a list.
func (n InstancesNode) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	out := make(map[string]Instances, len(n))
	for node, list := range n {
		if list == nil {
			list = Instances{}
		}
		out[node] = list
	}
	return json.Marshal(out)
}

// GroupByNode groups instances by their node. Instances without a node are
// grouped under the empty key. Order within a node follows the input order.
func GroupByNode(instances Instances) InstancesNode {
	grouped := make(InstancesNode)
	for _, inst := range instances {
		node := inst.GetNode()
		grouped[node] = append(grouped[node], inst)
	}
	return grouped
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = src
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = src
	}
}

func presentSlice(s []string) *[]string {
	if s == nil {
		return nil
	}
	return &s
}
