// Package agent provides the process scaffolding shared by the recorder and receiver
package agent

import "context"

// AgentType identifies the process an agent runs in
type AgentType string

const (
	AgentTypeRecorder AgentType = "recorder"
	AgentTypeReceiver AgentType = "receiver"
)

// HealthStatus represents agent health
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Config holds configuration for an agent
type Config struct {
	ID   string
	Type AgentType

	// NATSUrl is empty when the agent does not use the network transport
	NATSUrl string
}
