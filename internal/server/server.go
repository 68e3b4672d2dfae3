package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/query"
	"buildline/internal/repo"
	"buildline/internal/store"
	"buildline/internal/view"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cycle_detected"`
	Message string         `json:"message" example:"dependency cycle [a b]"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Buildline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Buildline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerViews(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr store.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": verr.Field})
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrCycleDetected):
		return newAPIError(http.StatusConflict, "cycle_detected", err.Error(), nil)
	case errors.Is(err, store.ErrHasDependents):
		return newAPIError(http.StatusConflict, "has_dependents", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func actorID(header string) string {
	if header == "" {
		return "local-user"
	}
	return header
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Buildline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Actor string               `header:"X-Actor"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		p, err := e.InitProject(ctx, input.Body.ID, input.Body.Name, input.Body.CodePrefix, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProjectResponse, 0, len(items))
		for _, p := range items {
			res = append(res, projectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Actor     string            `header:"X-Actor"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		opts := engine.TaskCreateOptions{
			ProjectID: input.ProjectID,
			ActorID:   actorID(input.Actor),
			Input:     createInput(input.Body, e.Config),
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{task_id}/subtasks",
		Summary:       "Create a subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		TaskID    string            `path:"task_id"`
		Actor     string            `header:"X-Actor"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID: input.ProjectID,
			ParentID:  input.TaskID,
			ActorID:   actorID(input.Actor),
			Input:     createInput(input.Body, e.Config),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `path:"task_id"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ProjectID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		TaskID    string            `path:"task_id"`
		Actor     string            `header:"X-Actor"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.ProjectID, input.TaskID, actorID(input.Actor), patchFrom(input.Body, e.Config))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Delete task and its subtree",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `path:"task_id"`
		Actor     string `header:"X-Actor"`
	}) (*struct {
		Body DeleteTaskResponse `json:"body"`
	}, error) {
		removed, err := e.DeleteTask(ctx, input.ProjectID, input.TaskID, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteTaskResponse `json:"body"`
		}{Body: DeleteTaskResponse{Removed: removed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/status",
		Summary:     "Set task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		TaskID    string           `path:"task_id"`
		Actor     string           `header:"X-Actor"`
		Body      SetStatusRequest `json:"body"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		t, err := e.SetStatus(ctx, input.ProjectID, input.TaskID, actorID(input.Actor), domain.Status(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reparent-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/reparent",
		Summary:     "Move task under a new parent",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		TaskID    string          `path:"task_id"`
		Actor     string          `header:"X-Actor"`
		Body      ReparentRequest `json:"body"`
	}) (*struct {
		Body TaskBody `json:"body"`
	}, error) {
		t, err := e.ReparentTask(ctx, input.ProjectID, input.TaskID, input.Body.ParentID, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskBody `json:"body"`
		}{Body: TaskBody{Task: t}}, nil
	})
}

// listParams are the shared query filters of the task list and view routes.
type listParams struct {
	ProjectID     string   `path:"project_id"`
	View          string   `query:"view" enum:"list,kanban,gantt,calendar"`
	Search        string   `query:"search"`
	Status        string   `query:"status"`
	Priority      string   `query:"priority"`
	Assignee      string   `query:"assignee"`
	ShowCompleted bool     `query:"show_completed"`
	GroupBy       string   `query:"group_by" enum:"none,status,priority,assignee"`
	Sort          string   `query:"sort" enum:"due_date,priority,status,title,progress,created_at"`
	Dir           string   `query:"dir" enum:"asc,desc"`
	WindowStart   string   `query:"window_start" format:"date"`
	Expanded      []string `query:"expanded"`
}

func (p listParams) options() engine.ViewOptions {
	return engine.ViewOptions{
		Kind:        view.Kind(p.View),
		WindowStart: p.WindowStart,
		Expanded:    p.Expanded,
		Query: query.Options{
			Search:        p.Search,
			Status:        p.Status,
			Priority:      p.Priority,
			AssigneeID:    p.Assignee,
			ShowCompleted: p.ShowCompleted,
			GroupBy:       query.GroupKey(p.GroupBy),
			Sort:          query.SortKey(p.Sort),
			Dir:           query.Direction(p.Dir),
		},
	}
}

func registerViews(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks as a view projection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *listParams) (*struct {
		Body engine.ViewData `json:"body"`
	}, error) {
		data, err := e.ListTasks(ctx, input.ProjectID, input.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ViewData `json:"body"`
		}{Body: data}, nil
	})
}

func registerStats(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Project metrics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.ProjectMetrics `json:"body"`
	}, error) {
		m, err := e.GetStats(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectMetrics `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-cycles",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cycles",
		Summary:     "Dependency cycles",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body CyclesResponse `json:"body"`
	}, error) {
		cycles, err := e.Cycles(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CyclesResponse `json:"body"`
		}{Body: CyclesResponse{Cycles: cycles}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Latest events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.LatestEvents(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
