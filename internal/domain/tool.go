package domain

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// DefaultToolNamespace is the namespace used by tools that do not configure one.
const DefaultToolNamespace NamespaceID = "tools"

var toolIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-_.]*$`)

// ToolID is the stable identifier of a tool.
type ToolID string

// Validate checks the tool id format.
func (id ToolID) Validate() error {
	if !toolIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidToolID, string(id))
	}
	return nil
}

// ToolDeploymentID identifies a deployment within a tool.
type ToolDeploymentID string

// ToolDeploymentState is the lifecycle state of a deployment.
type ToolDeploymentState string

const (
	DeploymentStatePending   ToolDeploymentState = "pending"
	DeploymentStateActive    ToolDeploymentState = "active"
	DeploymentStateComplete  ToolDeploymentState = "complete"
	DeploymentStateCancelled ToolDeploymentState = "cancelled"
	DeploymentStateFailed    ToolDeploymentState = "failed"
)

// AllDeploymentStates lists every deployment state.
var AllDeploymentStates = []ToolDeploymentState{
	DeploymentStatePending,
	DeploymentStateActive,
	DeploymentStateComplete,
	DeploymentStateCancelled,
	DeploymentStateFailed,
}

// deploymentTransitions is the only source of truth for allowed transitions.
var deploymentTransitions = map[ToolDeploymentState][]ToolDeploymentState{
	DeploymentStatePending:   {DeploymentStateActive, DeploymentStateCancelled, DeploymentStateFailed},
	DeploymentStateActive:    {DeploymentStateComplete, DeploymentStateCancelled, DeploymentStateFailed},
	DeploymentStateComplete:  nil,
	DeploymentStateCancelled: nil,
	DeploymentStateFailed:    nil,
}

// ParseDeploymentState parses a state name, case-insensitively.
func ParseDeploymentState(s string) (ToolDeploymentState, error) {
	state := ToolDeploymentState(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := deploymentTransitions[state]; !ok {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, s)
	}
	return state, nil
}

// IsTerminal reports whether no transition leaves the state.
func (s ToolDeploymentState) IsTerminal() bool {
	targets, ok := deploymentTransitions[s]
	return ok && len(targets) == 0
}

// CanTransitionTo reports whether the transition table allows s -> next.
func (s ToolDeploymentState) CanTransitionTo(next ToolDeploymentState) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ToolDeployment is one versioned rollout of a tool.
type ToolDeployment struct {
	ID        ToolDeploymentID    `json:"id"`
	Version   string              `json:"version"`
	State     ToolDeploymentState `json:"state"`
	Progress  float64             `json:"progress"`
	StartedAt *time.Time          `json:"started_at,omitempty"`
	Duration  time.Duration       `json:"duration"`
	RefName   RefName             `json:"ref_name"`
	Locator   BlobLocator         `json:"locator"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ProgressAt returns the rollout progress in [0,1] at the given instant.
// Active deployments advance linearly over Duration from StartedAt; terminal
// states other than Complete keep the progress recorded at transition.
func (d *ToolDeployment) ProgressAt(now time.Time) float64 {
	switch d.State {
	case DeploymentStatePending:
		return 0
	case DeploymentStateComplete:
		return 1
	case DeploymentStateActive:
		if d.StartedAt == nil || d.Duration <= 0 {
			return 1
		}
		p := float64(now.Sub(*d.StartedAt)) / float64(d.Duration)
		return clampProgress(p)
	default:
		return clampProgress(d.Progress)
	}
}

// Transition returns a copy of d moved to next, or ErrInvalidTransition.
func (d ToolDeployment) Transition(next ToolDeploymentState, now time.Time) (ToolDeployment, error) {
	if !d.State.CanTransitionTo(next) {
		return d, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, next)
	}
	progress := d.ProgressAt(now)
	d.State = next
	d.Progress = progress
	if next == DeploymentStateComplete {
		d.Progress = 1
	}
	d.UpdatedAt = now
	return d, nil
}

// Clone returns a copy that shares no pointers with d.
func (d ToolDeployment) Clone() ToolDeployment {
	if d.StartedAt != nil {
		started := *d.StartedAt
		d.StartedAt = &started
	}
	return d
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ToolDeploymentConfig holds the options for creating a deployment.
type ToolDeploymentConfig struct {
	Version  string
	Duration time.Duration
	// FileName names the single file created when a stream is not a zip archive.
	FileName string
}

// DefaultPayloadFileName is used when a non-archive payload has no file name.
const DefaultPayloadFileName = "payload"

// Validate checks the deployment options.
func (c ToolDeploymentConfig) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidVersion)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidVersion)
	}
	if c.FileName != "" {
		if err := ValidateEntryName(c.FileName); err != nil {
			return err
		}
	}
	return nil
}

// ContentSource is the content of a new deployment: either StreamContent or
// ExistingContent.
type ContentSource interface {
	contentSource()
}

// StreamContent uploads a raw byte stream. Zip archives are expanded into a
// directory tree; any other payload becomes a single file.
type StreamContent struct {
	Reader io.Reader
}

// ExistingContent adopts a directory node already stored in the tool namespace.
type ExistingContent struct {
	Locator BlobLocator
}

func (StreamContent) contentSource()   {}
func (ExistingContent) contentSource() {}

// Tool is a named, versionable distributable artifact.
type Tool struct {
	ID              ToolID            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Category        string            `json:"category,omitempty"`
	Group           string            `json:"group,omitempty"`
	Platforms       []string          `json:"platforms,omitempty"`
	Public          bool              `json:"public"`
	Bundled         bool              `json:"bundled"`
	ShowInUgs       bool              `json:"show_in_ugs"`
	ShowInDashboard bool              `json:"show_in_dashboard"`
	ShowInToolbox   bool              `json:"show_in_toolbox"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	NamespaceID     NamespaceID       `json:"namespace_id,omitempty"`
	// Deployments are in creation order: oldest first, most recent last.
	Deployments []ToolDeployment `json:"deployments,omitempty"`
}

// Namespace returns the tool namespace, falling back to DefaultToolNamespace.
func (t *Tool) Namespace() NamespaceID {
	if t.NamespaceID == "" {
		return DefaultToolNamespace
	}
	return t.NamespaceID
}

// FindDeployment returns the deployment with the given id.
func (t *Tool) FindDeployment(id ToolDeploymentID) (*ToolDeployment, bool) {
	for i := range t.Deployments {
		if t.Deployments[i].ID == id {
			return &t.Deployments[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the tool.
func (t *Tool) Clone() *Tool {
	if t == nil {
		return nil
	}
	c := *t
	c.Platforms = append([]string(nil), t.Platforms...)
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Deployments = make([]ToolDeployment, len(t.Deployments))
	for i, d := range t.Deployments {
		c.Deployments[i] = d.Clone()
	}
	return &c
}

// DeploymentRefName returns the ref under which a deployment's root node is stored.
func DeploymentRefName(toolID ToolID, id ToolDeploymentID) RefName {
	return RefName(fmt.Sprintf("tools/%s/%s", toolID, id))
}
