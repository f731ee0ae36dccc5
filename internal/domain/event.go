package domain

import "time"

// EventType defines the type of event that occurred.
type EventType string

const (
	EventToolPublished             EventType = "tool.published"
	EventDeploymentCreated         EventType = "tool.deployment.created"
	EventDeploymentStateChanged    EventType = "tool.deployment.state_changed"
	EventDeploymentCreationAborted EventType = "tool.deployment.creation_aborted"
)

// Event represents a domain event that occurred in the system.
type Event struct {
	ID           string
	Type         EventType
	Timestamp    time.Time
	ToolID       ToolID
	DeploymentID ToolDeploymentID
	Data         any
}

// DeploymentEventPayload contains data for deployment events.
type DeploymentEventPayload struct {
	ToolID       ToolID
	DeploymentID ToolDeploymentID
	Version      string
	Previous     ToolDeploymentState
	State        ToolDeploymentState
	Subject      string
	// Length is the payload size in bytes; set on creation.
	Length int64
}

// ToolPublishedPayload contains data for tool.published events.
type ToolPublishedPayload struct {
	ToolID  ToolID
	Subject string
}
