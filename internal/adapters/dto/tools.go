package dto

import (
	"time"

	"github.com/bnema/toolshed/internal/domain"
)

// ToolsResponse lists tools.
type ToolsResponse struct {
	Tools []ToolResponse `json:"tools"`
}

// ToolResponse is the metadata of one tool with its deployments.
type ToolResponse struct {
	ID              domain.ToolID        `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	Category        string               `json:"category,omitempty"`
	Group           string               `json:"group,omitempty"`
	Platforms       []string             `json:"platforms,omitempty"`
	Public          bool                 `json:"public"`
	Bundled         bool                 `json:"bundled"`
	ShowInUgs       bool                 `json:"show_in_ugs"`
	ShowInDashboard bool                 `json:"show_in_dashboard"`
	ShowInToolbox   bool                 `json:"show_in_toolbox"`
	Metadata        map[string]string    `json:"metadata,omitempty"`
	Namespace       domain.NamespaceID   `json:"namespace,omitempty"`
	Deployments     []DeploymentResponse `json:"deployments"`
}

// DeploymentResponse is one deployment. Progress is evaluated at response time.
type DeploymentResponse struct {
	ID        domain.ToolDeploymentID    `json:"id"`
	Version   string                     `json:"version"`
	State     domain.ToolDeploymentState `json:"state"`
	Progress  float64                    `json:"progress"`
	StartedAt *time.Time                 `json:"started_at,omitempty"`
	Duration  string                     `json:"duration,omitempty"`
	Locator   domain.BlobLocator         `json:"locator"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// UpdateDeploymentRequest moves a deployment to a new state.
type UpdateDeploymentRequest struct {
	State string `json:"state"`
}

// NewToolResponse converts a tool record.
func NewToolResponse(t *domain.Tool, now time.Time) ToolResponse {
	resp := ToolResponse{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Category:        t.Category,
		Group:           t.Group,
		Platforms:       t.Platforms,
		Public:          t.Public,
		Bundled:         t.Bundled,
		ShowInUgs:       t.ShowInUgs,
		ShowInDashboard: t.ShowInDashboard,
		ShowInToolbox:   t.ShowInToolbox,
		Metadata:        t.Metadata,
		Namespace:       t.NamespaceID,
		Deployments:     make([]DeploymentResponse, 0, len(t.Deployments)),
	}
	for i := range t.Deployments {
		resp.Deployments = append(resp.Deployments, NewDeploymentResponse(&t.Deployments[i], now))
	}
	return resp
}

// NewDeploymentResponse converts a deployment record.
func NewDeploymentResponse(d *domain.ToolDeployment, now time.Time) DeploymentResponse {
	resp := DeploymentResponse{
		ID:        d.ID,
		Version:   d.Version,
		State:     d.State,
		Progress:  d.ProgressAt(now),
		StartedAt: d.StartedAt,
		Locator:   d.Locator,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Duration > 0 {
		resp.Duration = d.Duration.String()
	}
	return resp
}

// Record converts the response back into a domain tool. Remote clients use
// it to rebuild tools fetched over HTTP.
func (r ToolResponse) Record() (*domain.Tool, error) {
	t := &domain.Tool{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Category:        r.Category,
		Group:           r.Group,
		Platforms:       r.Platforms,
		Public:          r.Public,
		Bundled:         r.Bundled,
		ShowInUgs:       r.ShowInUgs,
		ShowInDashboard: r.ShowInDashboard,
		ShowInToolbox:   r.ShowInToolbox,
		Metadata:        r.Metadata,
		NamespaceID:     r.Namespace,
	}
	for _, d := range r.Deployments {
		dep := domain.ToolDeployment{
			ID:        d.ID,
			Version:   d.Version,
			State:     d.State,
			Progress:  d.Progress,
			StartedAt: d.StartedAt,
			Locator:   d.Locator,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		}
		if d.Duration != "" {
			dur, err := time.ParseDuration(d.Duration)
			if err != nil {
				return nil, err
			}
			dep.Duration = dur
		}
		t.Deployments = append(t.Deployments, dep)
	}
	return t, nil
}
