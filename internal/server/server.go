package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"starforge/internal/domain"
	"starforge/internal/engine"
	"starforge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_forged"`
	Message string         `json:"message" example:"issue already forged"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Starforge API. The context
// bounds background work started by the handler, such as webhook
// delivery; cancel it on shutdown.
func New(ctx context.Context, cfg Config) (http.Handler, error) {
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Starforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGalaxies(group, cfg.Engine)
	registerStakeholders(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(ctx, cfg.Engine)

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
	if errors.Is(err, engine.ErrAlreadyForged) {
		return newAPIError(http.StatusConflict, "already_forged", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInsufficientBalance) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNoSunshines) {
		return newAPIError(http.StatusUnprocessableEntity, "no_sunshines", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "frozen") || strings.Contains(lowered, "already released"):
		return newAPIError(http.StatusConflict, "version_frozen", msg, nil)
	case strings.Contains(lowered, "closed"):
		return newAPIError(http.StatusUnprocessableEntity, "issue_closed", msg, nil)
	case strings.Contains(lowered, "not completed"), strings.Contains(lowered, "not tested"):
		return newAPIError(http.StatusUnprocessableEntity, "release_blocked", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
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
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "healthz")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Starforge API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGalaxies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-galaxy",
		Method:        http.MethodPost,
		Path:          "/galaxies",
		Summary:       "Create galaxy",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGalaxyRequest `json:"body"`
	}) (*struct {
		Body GalaxyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if input.Body.MaintainerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "maintainer_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		name := input.Body.Name
		if name == "" {
			name = input.Body.ID
		}
		g, err := e.InitGalaxy(ctx, input.Body.ID, name, input.Body.MaintainerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GalaxyResponse `json:"body"`
		}{Body: galaxyResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-galaxies",
		Method:      http.MethodGet,
		Path:        "/galaxies",
		Summary:     "List galaxies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GalaxyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListGalaxies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GalaxyResponse `json:"body"`
		}{Body: mapGalaxies(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-galaxy",
		Method:      http.MethodGet,
		Path:        "/galaxies/{galaxy_id}",
		Summary:     "Get galaxy",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GalaxyID string `path:"galaxy_id"`
	}) (*struct {
		Body GalaxyResponse `json:"body"`
	}, error) {
		g, err := e.Repo.GetGalaxy(ctx, input.GalaxyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GalaxyResponse `json:"body"`
		}{Body: galaxyResponse(g)}, nil
	})
}

func registerStakeholders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stakeholder",
		Method:        http.MethodPost,
		Path:          "/stakeholders",
		Summary:       "Create stakeholder",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateStakeholderRequest `json:"body"`
	}) (*struct {
		Body StakeholderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		s, err := e.EnsureStakeholder(ctx, input.Body.ID, input.Body.Nickname, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakeholderResponse `json:"body"`
		}{Body: stakeholderResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stakeholder",
		Method:      http.MethodGet,
		Path:        "/stakeholders/{id}",
		Summary:     "Get stakeholder",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body StakeholderResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetStakeholder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakeholderResponse `json:"body"`
		}{Body: stakeholderResponse(s)}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/galaxies/{galaxy_id}/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		GalaxyID string             `path:"galaxy_id"`
		Body     CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.IssueCreateOptions{
			GalaxyID:  input.GalaxyID,
			Title:     input.Body.Title,
			AuthorID:  actorID,
			Sunshines: input.Body.Sunshines,
			ActorID:   actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Body != nil {
			opts.Body = *input.Body.Body
		}
		if input.Body.ContributorID != nil {
			opts.ContributorID = *input.Body.ContributorID
		}
		i, err := e.CreateIssue(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/galaxies/{galaxy_id}/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, input *struct {
		GalaxyID string `path:"galaxy_id"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListIssues(ctx, input.GalaxyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: mapIssues(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		i, err := e.Repo.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/fund",
		Summary:     "Fund an issue with sunshines",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body FundIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		funder := input.Body.FunderID
		if funder == "" {
			funder = actorID
		}
		if err := e.Allocate(ctx, funder, input.ID, input.Body.Amount, actorID); err != nil {
			return nil, handleError(err)
		}
		i, err := e.Repo.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shine-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/shine",
		Summary:     "Add shine to an issue",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body FundIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		funder := input.Body.FunderID
		if funder == "" {
			funder = actorID
		}
		if err := e.Deallocate(ctx, funder, input.ID, input.Body.Amount, actorID); err != nil {
			return nil, handleError(err)
		}
		i, err := e.Repo.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forge-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/forge",
		Summary:     "Convert issue sunshines into stars",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ForgeResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ForgeIssue(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ForgeResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tag-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/tags",
		Summary:     "Add a lifecycle tag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body TagRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			i   domain.Issue
			err error
		)
		switch input.Body.Tag {
		case "patcher":
			i, err = e.PatchIssue(ctx, input.ID, actorID)
		case "closed":
			i, err = e.CloseIssue(ctx, input.ID, actorID)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown tag", map[string]any{"tag": input.Body.Tag})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "untag-issue",
		Method:      http.MethodDelete,
		Path:        "/issues/{id}/tags/{tag}",
		Summary:     "Remove a lifecycle tag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID  string `path:"id"`
		Tag string `path:"tag"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Tag != "patcher" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "only the patcher tag can be removed", map[string]any{"tag": input.Tag})
		}
		i, err := e.UnpatchIssue(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-version",
		Method:        http.MethodPost,
		Path:          "/galaxies/{galaxy_id}/versions",
		Summary:       "Create version",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		GalaxyID string               `path:"galaxy_id"`
		Body     CreateVersionRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Tag == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tag is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.VersionCreateOptions{
			GalaxyID: input.GalaxyID,
			Tag:      input.Body.Tag,
			ActorID:  actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		v, err := e.CreateVersion(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/versions/{id}",
		Summary:     "Get version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := e.Repo.GetVersion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-patch",
		Method:      http.MethodPost,
		Path:        "/versions/{id}/patches",
		Summary:     "Attach issue as a patch",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AttachPatchRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.IssueID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "issue_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.AttachPatch(ctx, input.ID, input.Body.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-patch",
		Method:      http.MethodDelete,
		Path:        "/versions/{id}/patches/{patch_id}",
		Summary:     "Remove a patch",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		PatchID string `path:"patch_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemovePatch(ctx, input.ID, input.PatchID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-patch",
		Method:      http.MethodPost,
		Path:        "/versions/{id}/patches/{patch_id}/complete",
		Summary:     "Toggle patch completed flag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string             `path:"id"`
		PatchID string             `path:"patch_id"`
		Body    PatchToggleRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CompletePatch(ctx, input.ID, input.PatchID, input.Body.Value, actorID); err != nil {
			return nil, handleError(err)
		}
		v, err := e.Repo.GetVersion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-patch",
		Method:      http.MethodPost,
		Path:        "/versions/{id}/patches/{patch_id}/test",
		Summary:     "Toggle patch tested flag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string             `path:"id"`
		PatchID string             `path:"patch_id"`
		Body    PatchToggleRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.TestPatch(ctx, input.ID, input.PatchID, input.Body.Value, actorID); err != nil {
			return nil, handleError(err)
		}
		v, err := e.Repo.GetVersion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-version-patch",
		Method:      http.MethodPost,
		Path:        "/galaxies/{galaxy_id}/versions/{tag}/revert",
		Summary:     "Revert an issue from a version by tag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		GalaxyID string        `path:"galaxy_id"`
		Tag      string        `path:"tag"`
		Body     RevertRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.IssueID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "issue_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Revert(ctx, input.GalaxyID, input.Tag, input.Body.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-version-status",
		Method:      http.MethodPut,
		Path:        "/versions/{id}/status",
		Summary:     "Set version status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID    string                  `path:"id"`
		Force bool                    `query:"force"`
		Body  SetVersionStatusRequest `json:"body"`
	}) (*struct {
		Body engine.ReleaseOutcome `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.SetVersionStatus(ctx, input.ID, input.Body.Status, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReleaseOutcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forge-version",
		Method:      http.MethodPost,
		Path:        "/versions/{id}/forge",
		Summary:     "Batch forge every patched issue",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.VersionForgeResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ForgeVersion(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VersionForgeResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-forge-records",
		Method:      http.MethodGet,
		Path:        "/galaxies/{galaxy_id}/ledger",
		Summary:     "List forge records",
	}, func(ctx context.Context, input *struct {
		GalaxyID string `path:"galaxy_id"`
	}) (*struct {
		Body []ForgeRecordResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListForgeRecords(ctx, input.GalaxyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ForgeRecordResponse `json:"body"`
		}{Body: mapForgeRecords(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-space-positions",
		Method:      http.MethodGet,
		Path:        "/galaxies/{galaxy_id}/space",
		Summary:     "Ranked stakeholder positions",
	}, func(ctx context.Context, input *struct {
		GalaxyID string `path:"galaxy_id"`
	}) (*struct {
		Body []SpacePositionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSpacePositions(ctx, input.GalaxyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SpacePositionResponse `json:"body"`
		}{Body: mapSpacePositions(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GalaxyID string `query:"galaxy_id"`
		After    int64  `query:"after"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.EventsAfter(ctx, limit, input.After, input.GalaxyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
