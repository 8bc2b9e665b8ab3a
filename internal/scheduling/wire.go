package scheduling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type agentRecord struct {
	IP         string   `json:"ip"`
	CPU        *float64 `json:"cpu"`
	Memory     *float64 `json:"memory"`
	State      string   `json:"state"`
	Reuptation *float64 `json:"Reuptation"`
	Reputation *float64 `json:"reputation"`
	LastSeen   float64  `json:"last_seen"`
}

func (r agentRecord) toAgent(id string) (Agent, error) {
	if strings.TrimSpace(r.IP) == "" {
		return Agent{}, fmt.Errorf("agent %s: missing ip", id)
	}
	agent := Agent{ID: id, IP: r.IP, LastSeen: r.LastSeen, Reputation: DefaultReputation}
	if r.CPU != nil {
		agent.CPUPercent = *r.CPU
	}
	if r.Memory != nil {
		agent.MemoryMB = *r.Memory
	}
	switch {
	case r.Reputation != nil:
		agent.Reputation = *r.Reputation
	case r.Reuptation != nil:
		agent.Reputation = *r.Reuptation
	}
	switch AgentState(r.State) {
	case AgentFree, AgentBusy:
		agent.State = AgentState(r.State)
	case "":
		agent.State = AgentFree
	default:
		return Agent{}, fmt.Errorf("agent %s: unknown state %q", id, r.State)
	}
	if agent.CPUPercent < 0 || agent.CPUPercent > 100 {
		return Agent{}, fmt.Errorf("agent %s: cpu %.2f out of range", id, agent.CPUPercent)
	}
	if agent.MemoryMB < 0 {
		return Agent{}, fmt.Errorf("agent %s: negative memory", id)
	}
	if agent.Reputation < 0 || agent.Reputation > 100 {
		return Agent{}, fmt.Errorf("agent %s: reputation %.2f out of range", id, agent.Reputation)
	}
	return agent, nil
}

type deploymentRecord struct {
	DeploymentID string      `json:"deployment_id"`
	Agent        string      `json:"agent"`
	Image        string      `json:"image"`
	MappedPorts  dockerPorts `json:"mapped_ports"`
	Status       string      `json:"status"`
}

func (r deploymentRecord) toDeployment(key string) (Deployment, error) {
	id := key
	if r.DeploymentID != "" && r.DeploymentID != key {
		return Deployment{}, fmt.Errorf("deployment %s: record carries id %s", key, r.DeploymentID)
	}
	status := Status(r.Status)
	if !status.Valid() {
		return Deployment{}, fmt.Errorf("deployment %s: unknown status %q", id, r.Status)
	}
	return Deployment{
		ID:          id,
		AgentID:     r.Agent,
		Status:      status,
		Image:       r.Image,
		MappedPorts: r.MappedPorts.toPortMap(),
	}, nil
}

type detailRecord struct {
	Status      string      `json:"status"`
	Logs        string      `json:"logs"`
	MappedPorts dockerPorts `json:"mapped_ports"`
}

func (r detailRecord) toDetail(id string) (DeploymentDetail, error) {
	status := Status(r.Status)
	if !status.Valid() {
		return DeploymentDetail{}, fmt.Errorf("deployment %s: unknown status %q", id, r.Status)
	}
	return DeploymentDetail{
		DeploymentID: id,
		Status:       status,
		MappedPorts:  r.MappedPorts.toPortMap(),
		Logs:         r.Logs,
	}, nil
}

// dockerPorts is the port map as the Docker engine reports it; a port that is
// exposed but not published maps to null.
type dockerPorts map[string][]struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

func (p dockerPorts) toPortMap() PortMap {
	if len(p) == 0 {
		return nil
	}
	out := make(PortMap, len(p))
	for port, bindings := range p {
		converted := make([]PortBinding, 0, len(bindings))
		for _, b := range bindings {
			converted = append(converted, PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
		}
		out[port] = converted
	}
	return out
}

type submitResponse struct {
	DeploymentID string `json:"deployment_id"`
	Agent        string `json:"agent"`
	Image        string `json:"image"`
}

type cancelRequest struct {
	DeploymentID string `json:"deployment_id"`
	AgentIP      string `json:"agent_ip"`
}

type cancelResponse struct {
	Status       string `json:"status"`
	DeploymentID string `json:"deployment_id"`
}

// errorBody is the scheduler's failure payload. message is usually a string
// but is forwarded verbatim from an agent when placement fails.
type errorBody struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

func (b errorBody) text() string {
	raw := bytes.TrimSpace(b.Message)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
