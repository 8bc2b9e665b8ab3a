package draas

import "time"

// Agent is a compute host as reported by the console.
type Agent struct {
	ID         string  `json:"id"`
	IP         string  `json:"ip"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	LastSeen   float64 `json:"last_seen"`
	State      string  `json:"state"`
	Reputation float64 `json:"reputation"`
}

// PortBinding is one host endpoint a container port is published on.
type PortBinding struct {
	HostIP   string `json:"host_ip"`
	HostPort string `json:"host_port"`
}

// Deployment is a placement of a submitted code package on an agent.
type Deployment struct {
	ID          string                   `json:"id"`
	AgentID     string                   `json:"agent_id"`
	Status      string                   `json:"status"`
	Image       string                   `json:"image,omitempty"`
	MappedPorts map[string][]PortBinding `json:"mapped_ports,omitempty"`
}

// DeploymentDetail carries the logs of the selected deployment.
type DeploymentDetail struct {
	DeploymentID string                   `json:"deployment_id"`
	Status       string                   `json:"status"`
	MappedPorts  map[string][]PortBinding `json:"mapped_ports"`
	Logs         string                   `json:"logs"`
}

// AgentList is the response of GET /api/v1/agents.
type AgentList struct {
	Agents    []Agent   `json:"agents"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DeploymentList is the response of GET /api/v1/deployments.
type DeploymentList struct {
	Deployments []Deployment `json:"deployments"`
	FetchedAt   time.Time    `json:"fetched_at"`
}

// Selection is the currently selected deployment and its detail.
type Selection struct {
	SelectedID string            `json:"selected_id"`
	Detail     *DeploymentDetail `json:"detail,omitempty"`
}

// Session phases.
const (
	PhaseIdle            = "idle"
	PhaseSubmitting      = "submitting"
	PhaseAwaitingPayment = "awaiting_payment"
	PhaseConfirming      = "confirming"
	PhaseSettled         = "settled"
	PhaseFailed          = "failed"
)

// Session is the state of the console's upload session.
type Session struct {
	ID            string    `json:"id,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
	Runtime       string    `json:"runtime,omitempty"`
	Phase         string    `json:"phase"`
	SubmissionID  string    `json:"submission_id,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	ValueWei      string    `json:"value_wei,omitempty"`
	StatusMessage string    `json:"status_message,omitempty"`
	Progress      int       `json:"progress"`
	ErrorCode     string    `json:"error_code,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Terminal reports whether the session settled or failed.
func (s Session) Terminal() bool {
	return s.Phase == PhaseSettled || s.Phase == PhaseFailed
}

// CancelResult is the outcome of cancelling the selected deployment.
type CancelResult struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	Skipped      bool   `json:"skipped"`
}

// Payment is a journal entry whose fee was never settled.
type Payment struct {
	SessionID    string    `json:"session_id"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Runtime      string    `json:"runtime,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	Phase        string    `json:"phase"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	ValueWei     string    `json:"value_wei,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Health is the response of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Wallet bool   `json:"wallet"`
}
