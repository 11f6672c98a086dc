package types

import "time"

// BusyLoadThreshold is the load at or above which an agent reports busy.
const BusyLoadThreshold = 0.8

// AgentState is the coarse availability of an agent.
// Offline is never set automatically; it is an explicit external signal
// (for example an operator draining an agent before shutdown).
type AgentState string

const (
	AgentIdle    AgentState = "idle"
	AgentBusy    AgentState = "busy"
	AgentOffline AgentState = "offline"
)

// Capability is a named ability an agent declares it can perform.
type Capability struct {
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
}

// AgentStatus is the scheduler's view of a participating agent. It is created
// once at agent registration and mutated for the process lifetime.
type AgentStatus struct {
	AgentID       string              `json:"agent_id"`
	Type          string              `json:"type"`
	State         AgentState          `json:"state"`
	Capabilities  []Capability        `json:"capabilities"`
	CurrentTasks  map[string]struct{} `json:"-"`
	Load          float64             `json:"load"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
}

// NewAgentStatus creates an idle status for a freshly registered agent.
func NewAgentStatus(agentID, agentType string, caps []Capability) *AgentStatus {
	return &AgentStatus{
		AgentID:       agentID,
		Type:          agentType,
		State:         AgentIdle,
		Capabilities:  caps,
		CurrentTasks:  make(map[string]struct{}),
		LastHeartbeat: time.Now(),
	}
}

// RecalculateLoad recomputes Load and State from the current task set.
// Invariant: load = |current_tasks| / max(|capabilities|, 1); the agent is
// busy iff load >= BusyLoadThreshold. An offline agent stays offline.
func (s *AgentStatus) RecalculateLoad() {
	capCount := len(s.Capabilities)
	if capCount < 1 {
		capCount = 1
	}
	s.Load = float64(len(s.CurrentTasks)) / float64(capCount)
	if s.State == AgentOffline {
		return
	}
	if s.Load >= BusyLoadThreshold {
		s.State = AgentBusy
	} else {
		s.State = AgentIdle
	}
}

// AddTask records an in-flight task and updates load.
func (s *AgentStatus) AddTask(taskID string) {
	if s.CurrentTasks == nil {
		s.CurrentTasks = make(map[string]struct{})
	}
	s.CurrentTasks[taskID] = struct{}{}
	s.RecalculateLoad()
}

// RemoveTask forgets a finished task and updates load.
func (s *AgentStatus) RemoveTask(taskID string) {
	delete(s.CurrentTasks, taskID)
	s.RecalculateLoad()
}

// HasCapability reports whether the agent declared the named capability.
func (s *AgentStatus) HasCapability(name string) bool {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to hand to callers.
func (s *AgentStatus) Clone() *AgentStatus {
	cp := *s
	cp.Capabilities = append([]Capability(nil), s.Capabilities...)
	cp.CurrentTasks = make(map[string]struct{}, len(s.CurrentTasks))
	for id := range s.CurrentTasks {
		cp.CurrentTasks[id] = struct{}{}
	}
	return &cp
}
