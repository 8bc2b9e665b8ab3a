package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AgentState is the capacity state an agent advertises in its heartbeat.
type AgentState string

const (
	AgentFree AgentState = "Free"
	AgentBusy AgentState = "Busy"
)

// DefaultReputation is assumed when an agent never reported one.
const DefaultReputation = 50

// Agent is a compute host known to the scheduler.
type Agent struct {
	ID         string     `json:"id"`
	IP         string     `json:"ip"`
	CPUPercent float64    `json:"cpu_percent"`
	MemoryMB   float64    `json:"memory_mb"`
	LastSeen   float64    `json:"last_seen"`
	State      AgentState `json:"state"`
	Reputation float64    `json:"reputation"`
}

// LastSeenTime converts the heartbeat timestamp to a time.Time.
func (a Agent) LastSeenTime() time.Time {
	sec := int64(a.LastSeen)
	nsec := int64((a.LastSeen - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Valid reports whether s is a status the scheduler is known to emit.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidateTransition returns an error when a deployment is observed moving
// from one status to another in a way the scheduler never produces.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("deployment status cannot move from %q to %q", from, to)
}

// PortBinding is one host endpoint a container port is published on.
type PortBinding struct {
	HostIP   string `json:"host_ip"`
	HostPort string `json:"host_port"`
}

// PortMap maps a container port such as "80/tcp" to its host bindings.
type PortMap map[string][]PortBinding

// Clone returns a deep copy.
func (m PortMap) Clone() PortMap {
	if m == nil {
		return nil
	}
	out := make(PortMap, len(m))
	for port, bindings := range m {
		out[port] = append([]PortBinding(nil), bindings...)
	}
	return out
}

// Ports returns the container ports in a stable order.
func (m PortMap) Ports() []string {
	ports := make([]string, 0, len(m))
	for port := range m {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// Deployment is a placement of a submitted code package on an agent. AgentID
// carries the scheduler's agent reference, which is the agent address.
type Deployment struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Status      Status  `json:"status"`
	Image       string  `json:"image,omitempty"`
	MappedPorts PortMap `json:"mapped_ports,omitempty"`
}

// DeploymentDetail is fetched on demand for the selected deployment.
type DeploymentDetail struct {
	DeploymentID string  `json:"deployment_id"`
	Status       Status  `json:"status"`
	MappedPorts  PortMap `json:"mapped_ports"`
	Logs         string  `json:"logs"`
}

// Runtime is the declared type of an uploaded code package.
type Runtime string

const (
	RuntimePython Runtime = "python"
	RuntimeNodeJS Runtime = "nodejs"
	RuntimeGolang Runtime = "golang"
	RuntimeOllama Runtime = "ollama"
	RuntimeCustom Runtime = "custom"
)

// Runtimes lists the runtime tags the scheduler accepts.
func Runtimes() []Runtime {
	return []Runtime{RuntimePython, RuntimeNodeJS, RuntimeGolang, RuntimeOllama, RuntimeCustom}
}

// ParseRuntime normalises a runtime tag.
func ParseRuntime(raw string) (Runtime, error) {
	candidate := Runtime(strings.ToLower(strings.TrimSpace(raw)))
	for _, rt := range Runtimes() {
		if rt == candidate {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unsupported runtime %q", raw)
}

// Upload is a code package ready to be submitted.
type Upload struct {
	FileName string
	Content  []byte
	Type     Runtime
}
