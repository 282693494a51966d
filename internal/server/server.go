package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"hookahplus/internal/domain"
	"hookahplus/internal/engine"
	"hookahplus/internal/engine/auth"
	"hookahplus/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Keys     KeyStore
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"action not available in current state: prep not started"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reason\":\"precondition_failed\"}"`
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

// New returns an HTTP handler exposing the Hookah+ fire session API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Keys))
	hcfg := huma.DefaultConfig("Hookah+ Fire Session API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group, e)
	registerSessions(group, e)
	registerPress(group, e)
	registerFireSession(group, e)
	registerEvents(group, e)
	registerMetrics(group, e)
	registerQueues(group, e)
	registerAdmin(group, e)
	registerDevAuth(group, cfg.Auth)
	registerStream(router, basePath, e)
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
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrSessionExists):
		return newAPIError(http.StatusConflict, "session_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

// rejectionError surfaces a press the workflow did not accept.
func rejectionError(req engine.PressRequest, res engine.Result) huma.StatusError {
	return newAPIError(http.StatusBadRequest, string(res.Reason), "action not available in current state: "+res.Detail, map[string]any{
		"session_id": req.SessionID,
		"button":     req.Button,
		"staff_role": req.Role,
	})
}

func forbiddenRole(role domain.Role) error {
	return auth.ForbiddenError{Role: string(role)}
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
	oas.Components.SecuritySchemes["staffKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"staffKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>Hookah+ API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or a staff device key in X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Subscribers: e.Subscribers()}}, nil
	})
}

func registerSessions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a fire session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		prepStaff, err := bindPrincipal(ctx, domain.RolePrep, strings.TrimSpace(input.Body.PrepStaffID))
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.CreateOptions{
			TableID:     input.Body.TableID,
			FlavorMix:   input.Body.FlavorMix,
			PrepStaffID: prepStaff,
		}
		if input.Body.SessionID != nil {
			opts.SessionID = *input.Body.SessionID
		}
		s, err := e.CreateSession(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" enum:"prep,delivery,service,recovery,completed,cancelled"`
		StaffID string `query:"staff_id"`
	}) (*struct {
		Body []domain.Session `json:"body"`
	}, error) {
		var items []domain.Session
		var err error
		switch {
		case input.Status != "":
			items, err = e.SessionsByStatus(ctx, domain.Status(input.Status))
		case input.StaffID != "":
			items, err = e.SessionsByStaff(ctx, input.StaffID)
		default:
			items, err = e.ListSessions(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" && input.StaffID != "" {
			items = filterByStaff(items, input.StaffID)
		}
		return &struct {
			Body []domain.Session `json:"body"`
		}{Body: nonNilSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		s, err := e.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "Event history of one session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body []domain.WorkflowEvent `json:"body"`
	}, error) {
		if _, err := e.GetSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.EventHistory(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowEvent `json:"body"`
		}{Body: nonNilEvents(items)}, nil
	})
}

func filterByStaff(items []domain.Session, staffID string) []domain.Session {
	res := items[:0]
	for _, s := range items {
		if s.StaffAssigned.Has(staffID) {
			res = append(res, s)
		}
	}
	return res
}

func registerPress(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "press-button",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/press",
		Summary:     "Press a workflow button",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      PressButtonRequest `json:"body"`
	}) (*struct {
		Body PressButtonResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		evt, err := press(ctx, e, engine.PressRequest{
			SessionID: input.SessionID,
			Button:    domain.Button(strings.TrimSpace(input.Body.Button)),
			Role:      domain.Role(strings.TrimSpace(input.Body.StaffRole)),
			StaffID:   strings.TrimSpace(input.Body.StaffID),
			Metadata:  input.Body.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body PressButtonResponse `json:"body"`
		}{Body: PressButtonResponse{Event: evt, Session: evt.NewState}}, nil
	})
}

// press runs one button press on behalf of the request principal.
func press(ctx context.Context, e *engine.Engine, req engine.PressRequest) (domain.WorkflowEvent, error) {
	if req.Button == "" {
		return domain.WorkflowEvent{}, newAPIError(http.StatusBadRequest, "bad_request", "button is required", nil)
	}
	if req.Role == "" {
		return domain.WorkflowEvent{}, newAPIError(http.StatusBadRequest, "bad_request", "staff_role is required", nil)
	}
	staffID, err := bindPrincipal(ctx, req.Role, req.StaffID)
	if err != nil {
		return domain.WorkflowEvent{}, handleError(err)
	}
	req.StaffID = staffID
	res, err := e.PressButton(ctx, req)
	if err != nil {
		return domain.WorkflowEvent{}, handleError(err)
	}
	if !res.Accepted {
		return domain.WorkflowEvent{}, rejectionError(req, res)
	}
	return *res.Event, nil
}

func registerFireSession(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fire-session-action",
		Method:      http.MethodPost,
		Path:        "/fire-session",
		Summary:     "Create a session or press a button",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body FireSessionRequest `json:"body"`
	}) (*struct {
		Body FireSessionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		b := input.Body
		switch b.Action {
		case "create":
			if b.SessionID == "" || b.TableID == "" || b.FlavorMix == "" || b.PrepStaffID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "missing required fields: sessionId, tableId, flavorMix, prepStaffId", nil)
			}
			if _, err := bindPrincipal(ctx, domain.RolePrep, b.PrepStaffID); err != nil {
				return nil, handleError(err)
			}
			s, err := e.CreateSession(ctx, engine.CreateOptions{
				SessionID: b.SessionID, TableID: b.TableID, FlavorMix: b.FlavorMix, PrepStaffID: b.PrepStaffID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body FireSessionResponse `json:"body"`
			}{Body: FireSessionResponse{Success: true, Session: &s}}, nil
		case "press_button":
			if b.SessionID == "" || b.Button == "" || b.StaffRole == "" || b.StaffID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "missing required fields: sessionId, button, staffRole, staffId", nil)
			}
			evt, err := press(ctx, e, engine.PressRequest{
				SessionID: b.SessionID,
				Button:    domain.Button(b.Button),
				Role:      domain.Role(b.StaffRole),
				StaffID:   b.StaffID,
				Metadata:  b.Metadata,
			})
			if err != nil {
				return nil, err
			}
			return &struct {
				Body FireSessionResponse `json:"body"`
			}{Body: FireSessionResponse{Success: true, Event: &evt}}, nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid action", map[string]any{"action": b.Action})
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "fire-session-query",
		Method:      http.MethodGet,
		Path:        "/fire-session",
		Summary:     "Query sessions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"sessionId"`
		Status    string `query:"status"`
		StaffID   string `query:"staffId"`
	}) (*struct {
		Body FireSessionQueryResponse `json:"body"`
	}, error) {
		var resp FireSessionQueryResponse
		switch {
		case input.SessionID != "":
			s, err := e.GetSession(ctx, input.SessionID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Session = &s
		case input.StaffID != "":
			items, err := e.SessionsByStaff(ctx, input.StaffID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Sessions = nonNilSessions(items)
		case input.Status != "":
			items, err := e.SessionsByStatus(ctx, domain.Status(input.Status))
			if err != nil {
				return nil, handleError(err)
			}
			resp.Sessions = nonNilSessions(items)
		default:
			items, err := e.ListSessions(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			m, err := e.Metrics(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Sessions = nonNilSessions(items)
			resp.Metrics = &m
		}
		return &struct {
			Body FireSessionQueryResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Page through the event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Cursor int64 `query:"cursor" minimum:"0"`
		Limit  int   `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.EventsAfter(ctx, input.Cursor, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.WorkflowEvent{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].Seq)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMetrics(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Session metrics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.SessionMetrics `json:"body"`
	}, error) {
		m, err := e.Metrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionMetrics `json:"body"`
		}{Body: m}, nil
	})
}

func registerQueues(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "queue",
		Method:      http.MethodGet,
		Path:        "/queues/{queue}",
		Summary:     "Dashboard work queue",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Queue string `path:"queue" enum:"ready,refill,coal"`
	}) (*struct {
		Body []domain.Session `json:"body"`
	}, error) {
		items, err := Queue(ctx, e, input.Queue)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Session `json:"body"`
		}{Body: nonNilSessions(items)}, nil
	})
}

// Queue returns the sessions waiting in a named dashboard queue.
func Queue(ctx context.Context, e *engine.Engine, name string) ([]domain.Session, error) {
	switch name {
	case "ready":
		return e.ReadyForDelivery(ctx)
	case "refill":
		return e.RefillRequests(ctx)
	case "coal":
		return e.CoalRequests(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown queue %q", engine.ErrInvalidInput, name)
	}
}

func registerAdmin(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/admin/reset",
		Summary:     "Drop every session and event",
		Errors: []int{
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ResetResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx); err != nil {
			return nil, handleError(err)
		}
		if err := e.Reset(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResetResponse `json:"body"`
		}{Body: ResetResponse{Reset: true}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a staff JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if !authCfg.enabled() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "jwt secret not configured", nil)
		}
		staffID := strings.TrimSpace(input.Body.StaffID)
		if staffID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "staff_id is required", nil)
		}
		token, err := SignStaffToken(authCfg.JWTSecret, staffID, domain.Role(input.Body.Role), authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		authCfg.logger().Printf("dev login issued token for %s (%s)", staffID, input.Body.Role)
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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
