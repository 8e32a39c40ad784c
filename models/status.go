package models

// Requested instance states as stored by the server.
const (
	StateStart   = "start"
	StateStop    = "stop"
	StateRestart = "restart"
	StateDestroy = "destroy"
)

// Hypervisor reported VM states.
const (
	VMStateProvisioning = "provisioning"
	VMStateStarting     = "starting"
	VMStateRunning      = "running"
	VMStateStopped      = "stopped"
	VMStateFailed       = "failed"
	VMStateUpdating     = "updating"
)

// Console status strings derived from state and vm_state.
const (
	StatusProvisioning = "Provisioning"
	StatusStarting     = "Starting"
	StatusRunning      = "Running"
	StatusStopping     = "Stopping"
	StatusStopped      = "Stopped"
	StatusUpdating     = "Updating"
	StatusRestarting   = "Restarting"
	StatusDestroying   = "Destroying"
)

// DisplayStatus derives the console status of an instance from its
// requested state and the hypervisor state. It returns "" for combinations
// it does not know, in which case callers keep whatever status they have.
func DisplayStatus(state, vmState string) string {
	switch state {
	case StateStart:
		switch vmState {
		case VMStateRunning:
			return StatusRunning
		case VMStateStarting, VMStateStopped, VMStateFailed:
			return StatusStarting
		case VMStateUpdating:
			return StatusUpdating
		case VMStateProvisioning, "":
			return StatusProvisioning
		}
	case StateStop:
		switch vmState {
		case VMStateStarting, VMStateRunning:
			return StatusStopping
		case VMStateStopped, VMStateFailed:
			return StatusStopped
		case VMStateUpdating:
			return StatusUpdating
		case VMStateProvisioning, "":
			return StatusProvisioning
		}
	case StateRestart:
		return StatusRestarting
	case StateDestroy:
		return StatusDestroying
	}
	return ""
}

// RefreshStatus sets Status from State and VMState when both are present
// and the combination is known.
func (i *Instance) RefreshStatus() {
	if i.State == nil {
		return
	}
	if status := DisplayStatus(*i.State, i.GetVMState()); status != "" {
		i.Status = String(status)
	}
}

// IsActive reports whether the instance is running or on its way there.
func (i Instance) IsActive() bool {
	switch i.GetVMState() {
	case VMStateRunning, VMStateStarting, VMStateProvisioning:
		return true
	}
	return i.GetState() == StateStart
}
