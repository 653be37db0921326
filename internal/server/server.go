package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/engine/auth"
	"staffline/internal/repo"
)

const defaultBasePath = "/v1"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"project closed: project p1 is CLOSED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reason\":\"project_closed\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type jsonBody[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *jsonBody[T] {
	return &jsonBody[T]{Body: v}
}

// New returns an HTTP handler exposing the Staffline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(middleware.RequestID)
	router.Use(requestLogger(log.WithField("component", "api")))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Staffline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, e)
	registerDevAuth(group, e, cfg.Auth)
	registerUsers(group, e)
	registerResources(group, e)
	registerProjects(group, e)
	registerAssignments(group, e)
	registerRequests(group, e)
	registerReconcile(group, e)
	registerEvents(group, e)
	registerDashboard(group, e)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ise *engine.InvalidStateError
	if errors.As(err, &ise) {
		if ise.Reason == engine.ErrInvalidInput.Reason {
			return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"reason": ise.Reason})
	}
	if engine.IsConflict(err) {
		return newAPIError(http.StatusConflict, "concurrency_conflict", err.Error(), nil)
	}
	log.WithField("component", "api").WithError(err).Error("unhandled error")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

// retryOnConflict runs fn a second time when the first attempt lost a write
// race. The second attempt re-reads everything it validates.
func retryOnConflict[T any](fn func() (T, error)) (T, error) {
	out, err := fn()
	if engine.IsConflict(err) {
		log.WithField("component", "api").WithError(err).Debug("retrying after write conflict")
		out, err = fn()
	}
	return out, err
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Staffline API Docs</title>
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
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[MeResponse], error) {
		u, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MeResponse{User: u, Permissions: nonNilSlice(auth.Permissions(u))}), nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *jsonBody[DevLoginRequest]) (*jsonBody[DevLoginResponse], error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := e.Repo.GetUser(ctx, userID); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type" enum:"ADMIN,DEV_MANAGER"`
	}) (*jsonBody[[]domain.User], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListUsers(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *jsonBody[CreateUserRequest]) (*jsonBody[domain.User], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageUsers)
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			Type:    input.Body.Type,
			ActorID: actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string              `path:"user_id"`
		Body   CreateAPIKeyRequest `required:"false"`
	}) (*jsonBody[APIKeyResponse], error) {
		actor, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		if actor.ID != input.UserID {
			if err := auth.Require(actor, auth.PermManageUsers); err != nil {
				return nil, handleError(err)
			}
		}
		key, raw, err := e.CreateAPIKey(ctx, input.UserID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(apiKeyResponse(key, raw)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}",
		Summary:       "Delete user",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageUsers)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteUser(ctx, input.UserID, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerResources(api huma.API, e engine.Engine) {
	type resourcePath struct {
		ID string `path:"resource_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/resources",
		Summary:     "List resources",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"AVAILABLE,ASSIGNED"`
		Search string `query:"q"`
		Limit  int    `query:"limit"`
	}) (*jsonBody[[]domain.Resource], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListResources(ctx, repo.ResourceFilters{Status: input.Status, Search: input.Search, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/resources/{resource_id}",
		Summary:     "Get resource",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *resourcePath) (*jsonBody[domain.Resource], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		res, err := e.Repo.GetResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/resources",
		Summary:       "Create resource",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *jsonBody[CreateResourceRequest]) (*jsonBody[domain.Resource], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := retryOnConflict(func() (domain.Resource, error) {
			return e.CreateResource(ctx, engine.ResourceCreateOptions{Name: input.Body.Name, Email: input.Body.Email, ActorID: actor.ID})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-resource",
		Method:      http.MethodPatch,
		Path:        "/resources/{resource_id}",
		Summary:     "Update resource",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"resource_id"`
		Body UpdateResourceRequest
	}) (*jsonBody[domain.Resource], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := retryOnConflict(func() (domain.Resource, error) {
			return e.UpdateResource(ctx, engine.ResourceUpdateOptions{
				ID:      input.ID,
				Name:    input.Body.Name,
				Email:   input.Body.Email,
				ActorID: actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-resource",
		Method:        http.MethodDelete,
		Path:          "/resources/{resource_id}",
		Summary:       "Delete resource",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *resourcePath) (*struct{}, error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteResource(ctx, input.ID, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	type projectPath struct {
		ID string `path:"project_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" enum:"ONGOING,HOLD,CLOSED"`
		OwnerID string `query:"owner_id"`
	}) (*jsonBody[[]domain.Project], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{Status: input.Status, OwnerID: input.OwnerID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*jsonBody[domain.Project], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *jsonBody[CreateProjectRequest]) (*jsonBody[domain.Project], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := retryOnConflict(func() (domain.Project, error) {
			return e.CreateProject(ctx, engine.ProjectCreateOptions{
				Name:        input.Body.Name,
				ClientName:  input.Body.ClientName,
				Description: input.Body.Description,
				OwnerID:     input.Body.OwnerID,
				ActorID:     actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"project_id"`
		Body UpdateProjectRequest
	}) (*jsonBody[domain.Project], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := retryOnConflict(func() (domain.Project, error) {
			return e.UpdateProject(ctx, engine.ProjectUpdateOptions{
				ID:          input.ID,
				Name:        input.Body.Name,
				ClientName:  input.Body.ClientName,
				Description: input.Body.Description,
				Status:      input.Body.Status,
				ActorID:     actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermManageCatalog)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteProject(ctx, input.ID, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignments",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"ACTIVE,RELEASED,EXPIRED"`
		ResourceID string `query:"resource_id"`
		ProjectID  string `query:"project_id"`
		Role       string `query:"role"`
		EndFrom    string `query:"end_from" format:"date"`
		EndTo      string `query:"end_to" format:"date"`
		Limit      int    `query:"limit"`
	}) (*jsonBody[[]repo.AssignmentDetail], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignmentDetails(ctx, repo.AssignmentFilters{
			Status:     input.Status,
			ResourceID: input.ResourceID,
			ProjectID:  input.ProjectID,
			Role:       input.Role,
			EndFrom:    input.EndFrom,
			EndTo:      input.EndTo,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Get assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"assignment_id"`
	}) (*jsonBody[domain.Assignment], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetAssignment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-resource",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Assign a resource to a project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *jsonBody[AssignRequest]) (*jsonBody[domain.Assignment], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermDirectExecute)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := retryOnConflict(func() (domain.Assignment, error) {
			return e.AssignResource(ctx, engine.AssignOptions{
				ResourceID: input.Body.ResourceID,
				ProjectID:  input.Body.ProjectID,
				Role:       input.Body.Role,
				StartDate:  input.Body.StartDate,
				EndDate:    input.Body.EndDate,
				Reason:     input.Body.Reason,
				ActorID:    actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/extend",
		Summary:     "Move an assignment end date",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"assignment_id"`
		Body ExtendRequest
	}) (*jsonBody[domain.Assignment], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermDirectExecute)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := retryOnConflict(func() (domain.Assignment, error) {
			return e.ExtendAssignment(ctx, engine.ExtendOptions{
				AssignmentID: input.ID,
				NewEndDate:   input.Body.NewEndDate,
				Reason:       input.Body.Reason,
				ActorID:      actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/release",
		Summary:     "Release an assignment",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"assignment_id"`
		Body ReleaseRequest `required:"false"`
	}) (*jsonBody[domain.Assignment], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermDirectExecute)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := retryOnConflict(func() (domain.Assignment, error) {
			return e.ReleaseAssignment(ctx, engine.ReleaseOptions{
				AssignmentID: input.ID,
				ReleaseDate:  input.Body.ReleaseDate,
				Reason:       input.Body.Reason,
				ActorID:      actor.ID,
			})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	type requestPath struct {
		ID string `path:"request_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List assignment requests",
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"PENDING,APPROVED,REJECTED"`
		Type        string `query:"type" enum:"ASSIGN,EXTEND,RELEASE,PROJECT"`
		RequesterID string `query:"requester_id"`
		ProjectID   string `query:"project_id"`
		Limit       int    `query:"limit"`
	}) (*jsonBody[[]domain.AssignmentRequest], error) {
		u, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		f := repo.RequestFilters{
			Status:      input.Status,
			Type:        input.Type,
			RequesterID: input.RequesterID,
			ProjectID:   input.ProjectID,
			Limit:       input.Limit,
		}
		if !auth.Has(u, auth.PermViewAllRecords) {
			f.RequesterID = u.ID
		}
		items, err := e.Repo.ListRequests(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get assignment request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*jsonBody[domain.AssignmentRequest], error) {
		u, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		req, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !auth.CanSeeRequest(u, req) {
			return nil, handleError(auth.ForbiddenError{Permission: auth.PermViewAllRecords})
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit an assignment request",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *jsonBody[SubmitRequestRequest]) (*jsonBody[domain.AssignmentRequest], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermSubmitRequests)
		if err != nil {
			return nil, handleError(err)
		}
		req, err := retryOnConflict(func() (domain.AssignmentRequest, error) {
			return e.SubmitRequest(ctx, input.Body.options(actor.ID))
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/approve",
		Summary:     "Approve and execute a request",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *requestPath) (*jsonBody[domain.AssignmentRequest], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermDecideRequests)
		if err != nil {
			return nil, handleError(err)
		}
		req, err := retryOnConflict(func() (domain.AssignmentRequest, error) {
			return e.ApproveRequest(ctx, engine.ApproveOptions{RequestID: input.ID, ActorID: actor.ID})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/reject",
		Summary:     "Reject a request",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"request_id"`
		Body RejectRequest `required:"false"`
	}) (*jsonBody[domain.AssignmentRequest], error) {
		actor, err := requireUser(ctx, e.Repo, auth.PermDecideRequests)
		if err != nil {
			return nil, handleError(err)
		}
		req, err := retryOnConflict(func() (domain.AssignmentRequest, error) {
			return e.RejectRequest(ctx, engine.RejectOptions{RequestID: input.ID, Reason: input.Body.Reason, ActorID: actor.ID})
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})
}

func registerReconcile(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Run the consistency reconciliation",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body *ReconcileRequest `required:"false"`
	}) (*jsonBody[engine.ReconcileReport], error) {
		if _, err := requireUser(ctx, e.Repo, auth.PermReconcile); err != nil {
			return nil, handleError(err)
		}
		today := ""
		if input.Body != nil {
			today = input.Body.Today
		}
		report, err := e.RunReconciliation(ctx, today)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(report), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityType   string `query:"entity_type" enum:"USER,RESOURCE,PROJECT,ASSIGNMENT,REQUEST"`
		EntityID     string `query:"entity_id"`
		ActivityType string `query:"activity_type"`
		ProjectID    string `query:"project_id"`
		ResourceID   string `query:"resource_id"`
		ActorID      string `query:"actor_id"`
		Automatic    string `query:"automatic" enum:"true,false"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*jsonBody[paginatedEvents], error) {
		if _, err := currentUser(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		f := repo.EventFilters{
			ProjectID:    input.ProjectID,
			ResourceID:   input.ResourceID,
			EntityType:   input.EntityType,
			EntityID:     input.EntityID,
			ActivityType: strings.ToUpper(input.ActivityType),
			ActorID:      input.ActorID,
		}
		if input.Automatic != "" {
			auto := input.Automatic == "true"
			f.Automatic = &auto
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Staffing counters",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[engine.DashboardStats], error) {
		u, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		stats, err := e.Dashboard(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-ending-soon",
		Method:      http.MethodGet,
		Path:        "/dashboard/ending-soon",
		Summary:     "Active assignments ending soon",
	}, func(ctx context.Context, input *struct {
		Days int `query:"days"`
	}) (*jsonBody[EndingSoonResponse], error) {
		u, err := currentUser(ctx, e.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		days := input.Days
		if days <= 0 {
			days = e.Config.EndingSoonDays()
		}
		items, err := e.EndingSoon(ctx, u, days, "")
		if err != nil {
			return nil, handleError(err)
		}
		return reply(EndingSoonResponse{Days: days, Items: nonNilSlice(items)}), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
