package projects

import "time"

type createRequest struct {
	ProjectName string `json:"projectName" binding:"required"`
	Description string `json:"description"`
}

// ProjectResponse is the outward-facing representation of a project.
type ProjectResponse struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created"`
}

// ListResponse is one page of projects.
type ListResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

func toResponse(p Project) ProjectResponse {
	return ProjectResponse{
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}
