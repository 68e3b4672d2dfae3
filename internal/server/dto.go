package server

import (
	"buildline/internal/config"
	"buildline/internal/domain"
	"buildline/internal/store"
)

// Request payloads

type CreateProjectRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	CodePrefix string `json:"code_prefix,omitempty"`
}

type CreateTaskRequest struct {
	ParentID       *string                       `json:"parent_id,omitempty"`
	Type           string                        `json:"type,omitempty" enum:"task,milestone,subtask,bug,feature,epic"`
	Title          string                        `json:"title"`
	Detail         *string                       `json:"detail,omitempty"`
	Priority       string                        `json:"priority,omitempty" enum:"critical,high,medium,low"`
	AssigneeID     *string                       `json:"assignee_id,omitempty"`
	ReporterID     *string                       `json:"reporter_id,omitempty"`
	Watchers       []string                      `json:"watchers,omitempty"`
	StartDate      *string                       `json:"start_date,omitempty" format:"date"`
	DueDate        *string                       `json:"due_date,omitempty" format:"date"`
	EstimatedHours *float64                      `json:"estimated_hours,omitempty"`
	Dependencies   []string                      `json:"dependencies,omitempty"`
	Tags           []string                      `json:"tags,omitempty"`
	Labels         []string                      `json:"labels,omitempty"`
	Checklist      []domain.ChecklistItem        `json:"checklist,omitempty"`
	Budget         *domain.Budget                `json:"budget,omitempty"`
	CustomFields   map[string]domain.CustomValue `json:"custom_fields,omitempty"`
}

type UpdateTaskRequest struct {
	Type           *string                        `json:"type,omitempty" enum:"task,milestone,subtask,bug,feature,epic"`
	Title          *string                        `json:"title,omitempty"`
	Detail         *string                        `json:"detail,omitempty"`
	Status         *string                        `json:"status,omitempty" enum:"todo,in-progress,in-review,blocked,completed,cancelled"`
	Priority       *string                        `json:"priority,omitempty" enum:"critical,high,medium,low"`
	AssigneeID     *string                        `json:"assignee_id,omitempty"`
	ReporterID     *string                        `json:"reporter_id,omitempty"`
	Watchers       *[]string                      `json:"watchers,omitempty"`
	StartDate      *string                        `json:"start_date,omitempty" format:"date"`
	DueDate        *string                        `json:"due_date,omitempty" format:"date"`
	ActualStart    *string                        `json:"actual_start_date,omitempty" format:"date"`
	ActualEnd      *string                        `json:"actual_end_date,omitempty" format:"date"`
	EstimatedHours *float64                       `json:"estimated_hours,omitempty"`
	ActualHours    *float64                       `json:"actual_hours,omitempty"`
	RemainingHours *float64                       `json:"remaining_hours,omitempty"`
	Progress       *int                           `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Dependencies   *[]string                      `json:"dependencies,omitempty"`
	BlockedBy      *[]string                      `json:"blocked_by,omitempty"`
	Tags           *[]string                      `json:"tags,omitempty"`
	Labels         *[]string                      `json:"labels,omitempty"`
	Checklist      *[]domain.ChecklistItem        `json:"checklist,omitempty"`
	Budget         *domain.Budget                 `json:"budget,omitempty"`
	CustomFields   *map[string]domain.CustomValue `json:"custom_fields,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"todo,in-progress,in-review,blocked,completed,cancelled"`
}

type ReparentRequest struct {
	ParentID string `json:"parent_id"`
}

// Response payloads

type TaskBody struct {
	Task domain.Task `json:"task"`
}

type ProjectResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CodePrefix string `json:"code_prefix"`
	Currency   string `json:"currency,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:         p.ID,
		Name:       p.Name,
		CodePrefix: p.CodePrefix,
		Currency:   p.Currency,
		CreatedAt:  p.CreatedAt,
	}
}

type DeleteTaskResponse struct {
	Removed []string `json:"removed"`
}

type CyclesResponse struct {
	Cycles [][]string `json:"cycles"`
}

type EventResponse struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		TaskID:  e.EntityID,
		ActorID: e.ActorID,
		Payload: e.Payload,
	}
}

// createInput translates the request, resolving people through the project
// config roster.
func createInput(req CreateTaskRequest, cfg *config.Config) store.CreateInput {
	in := store.CreateInput{
		Type:         domain.TaskType(req.Type),
		Title:        req.Title,
		Priority:     domain.Priority(req.Priority),
		Watchers:     req.Watchers,
		Dependencies: req.Dependencies,
		Tags:         req.Tags,
		Labels:       req.Labels,
		Checklist:    req.Checklist,
		CustomFields: req.CustomFields,
	}
	if req.Detail != nil {
		in.Detail = *req.Detail
	}
	if req.StartDate != nil {
		in.StartDate = *req.StartDate
	}
	if req.DueDate != nil {
		in.DueDate = *req.DueDate
	}
	if req.EstimatedHours != nil {
		in.EstimatedHours = *req.EstimatedHours
	}
	if req.Budget != nil {
		in.Budget = *req.Budget
	}
	if req.AssigneeID != nil {
		in.Assignee = cfg.Person(*req.AssigneeID)
	}
	if req.ReporterID != nil {
		in.Reporter = cfg.Person(*req.ReporterID)
	}
	return in
}

func patchFrom(req UpdateTaskRequest, cfg *config.Config) store.Patch {
	p := store.Patch{
		Title:          req.Title,
		Detail:         req.Detail,
		Watchers:       req.Watchers,
		StartDate:      req.StartDate,
		DueDate:        req.DueDate,
		ActualStart:    req.ActualStart,
		ActualEnd:      req.ActualEnd,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
		RemainingHours: req.RemainingHours,
		Progress:       req.Progress,
		Dependencies:   req.Dependencies,
		BlockedBy:      req.BlockedBy,
		Tags:           req.Tags,
		Labels:         req.Labels,
		Checklist:      req.Checklist,
		Budget:         req.Budget,
		CustomFields:   req.CustomFields,
	}
	if req.Type != nil {
		v := domain.TaskType(*req.Type)
		p.Type = &v
	}
	if req.Status != nil {
		v := domain.Status(*req.Status)
		p.Status = &v
	}
	if req.Priority != nil {
		v := domain.Priority(*req.Priority)
		p.Priority = &v
	}
	if req.AssigneeID != nil {
		v := cfg.Person(*req.AssigneeID)
		p.Assignee = &v
	}
	if req.ReporterID != nil {
		v := cfg.Person(*req.ReporterID)
		p.Reporter = &v
	}
	return p
}
