package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raidline/internal/auth"
	"raidline/internal/bridge"
	"raidline/internal/domain"
	"raidline/internal/raid"
	"raidline/internal/repo"
)

// DialogResolver delivers a participant's answer to a pending confirmation.
type DialogResolver interface {
	Resolve(dialogID string, accept bool) error
}

// Config for the HTTP API handler.
type Config struct {
	Coordinator *raid.Coordinator
	Repo        repo.Repo
	Hub         *bridge.Hub
	Dialogs     DialogResolver
	Gatherer    prometheus.Gatherer
	BasePath    string
	Auth        AuthConfig
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_event"`
	Message string         `json:"message" example:"event is closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the raidline control API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("server: coordinator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	hcfg := huma.DefaultConfig("Raidline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerEvents(group, cfg)
	registerControl(group, cfg)
	registerBridge(group, cfg)
	registerLedger(group, cfg)
	registerRoles(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var pe *raid.PersistenceError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusServiceUnavailable, "persistence_unavailable", err.Error(), map[string]any{"op": pe.Op})
	}
	var se *raid.SurfaceError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadGateway, "surface_error", err.Error(), map[string]any{"op": se.Op})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, bridge.ErrUnknownDialog):
		return newAPIError(http.StatusNotFound, "unknown_dialog", err.Error(), nil)
	case errors.Is(err, raid.ErrStaleEvent):
		return newAPIError(http.StatusConflict, "stale_event", err.Error(), nil)
	case errors.Is(err, raid.ErrEventExists):
		return newAPIError(http.StatusConflict, "event_exists", err.Error(), nil)
	case errors.Is(err, raid.ErrUnknownDungeon):
		return newAPIError(http.StatusUnprocessableEntity, "unknown_dungeon", err.Error(), nil)
	case errors.Is(err, raid.ErrInvalidRequest):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
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
		io.WriteString(w, docsHTML(basePath))
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
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
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
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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

func docsHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Raidline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

type guildPath struct {
	GuildID string `path:"guild_id"`
}

type eventPath struct {
	GuildID string `path:"guild_id"`
	EventID string `path:"event_id"`
}

type eventOutput struct {
	Body domain.EventRecord `json:"body"`
}

type eventListOutput struct {
	Body EventList `json:"body"`
}

type controlOutput struct {
	Body ControlResponse `json:"body"`
}

// ControlResponse reports where an event stands after a control action.
// Event is absent once the event has closed.
type ControlResponse struct {
	Closed bool                `json:"closed"`
	Event  *domain.EventRecord `json:"event,omitempty"`
}

func controlResult(c *raid.Coordinator, guildID, eventID string) *controlOutput {
	rec, ok := c.Get(guildID, eventID)
	if !ok {
		return &controlOutput{Body: ControlResponse{Closed: true}}
	}
	return &controlOutput{Body: ControlResponse{Event: &rec}}
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Principal `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		p.Permissions = nonNil(p.Permissions)
		return &struct {
			Body Principal `json:"body"`
		}{Body: p}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	c := cfg.Coordinator
	huma.Register(api, huma.Operation{
		OperationID: "list-all-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List in-flight events of every guild",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*eventListOutput, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		return &eventListOutput{Body: EventList{Items: nonNil(c.List(""))}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/events",
		Summary:     "List in-flight events of a guild",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *guildPath) (*eventListOutput, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		return &eventListOutput{Body: EventList{Items: nonNil(c.List(input.GuildID))}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/events/{event_id}",
		Summary:     "Get an in-flight event",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*eventOutput, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		rec, ok := c.Get(input.GuildID, input.EventID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "event not found", map[string]any{"event_id": input.EventID})
		}
		return &eventOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-roster",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/events/{event_id}/roster",
		Summary:     "Current reactions and confirmed signals",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body RosterResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		roster, err := c.Roster(ctx, input.GuildID, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RosterResponse `json:"body"`
		}{Body: RosterResponse{EventID: input.EventID, Reactions: roster.Reactions, Signals: roster.Signals}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-raid",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/raids",
		Summary:       "Open signup for a raid",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		GuildID string           `path:"guild_id"`
		Body    StartRaidRequest `json:"body"`
	}) (*eventOutput, error) {
		if err := requirePermission(ctx, PermEventsWrite); err != nil {
			return nil, err
		}
		rec, err := c.StartRaid(ctx, input.Body.toRaid(input.GuildID))
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-headcount",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/headcounts",
		Summary:       "Post a headcount",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		GuildID string                `path:"guild_id"`
		Body    StartHeadcountRequest `json:"body"`
	}) (*eventOutput, error) {
		if err := requirePermission(ctx, PermEventsWrite); err != nil {
			return nil, err
		}
		rec, err := c.StartHeadcount(ctx, input.Body.toRaid(input.GuildID))
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: rec}, nil
	})
}

func registerControl(api huma.API, cfg Config) {
	c := cfg.Coordinator
	controlErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusConflict,
		http.StatusServiceUnavailable,
	}

	huma.Register(api, huma.Operation{
		OperationID: "end-event",
		Method:      http.MethodPost,
		Path:        "/guilds/{guild_id}/events/{event_id}/end",
		Summary:     "End the current phase early",
		Errors:      controlErrors,
	}, func(ctx context.Context, input *struct {
		GuildID string         `path:"guild_id"`
		EventID string         `path:"event_id"`
		Body    ControlRequest `json:"body"`
	}) (*controlOutput, error) {
		if err := requirePermission(ctx, PermEventsWrite); err != nil {
			return nil, err
		}
		if err := c.End(ctx, input.GuildID, input.EventID, input.Body.ActorID); err != nil {
			return nil, handleError(err)
		}
		return controlResult(c, input.GuildID, input.EventID), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-event",
		Method:      http.MethodPost,
		Path:        "/guilds/{guild_id}/events/{event_id}/abort",
		Summary:     "Abort an event without credits",
		Errors:      controlErrors,
	}, func(ctx context.Context, input *struct {
		GuildID string         `path:"guild_id"`
		EventID string         `path:"event_id"`
		Body    ControlRequest `json:"body"`
	}) (*controlOutput, error) {
		if err := requirePermission(ctx, PermEventsWrite); err != nil {
			return nil, err
		}
		if err := c.Abort(ctx, input.GuildID, input.EventID, input.Body.ActorID); err != nil {
			return nil, handleError(err)
		}
		return controlResult(c, input.GuildID, input.EventID), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-location",
		Method:      http.MethodPut,
		Path:        "/guilds/{guild_id}/events/{event_id}/location",
		Summary:     "Change the location and resend it",
		Errors:      controlErrors,
	}, func(ctx context.Context, input *struct {
		GuildID string          `path:"guild_id"`
		EventID string          `path:"event_id"`
		Body    LocationRequest `json:"body"`
	}) (*eventOutput, error) {
		if err := requirePermission(ctx, PermEventsWrite); err != nil {
			return nil, err
		}
		rec, err := c.ChangeLocation(ctx, input.GuildID, input.EventID, input.Body.ActorID, input.Body.Location)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: rec}, nil
	})
}

func registerBridge(api huma.API, cfg Config) {
	c := cfg.Coordinator
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-reaction",
		Method:        http.MethodPost,
		Path:          "/bridge/reactions",
		Summary:       "Deliver a reaction change on a signup message",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ReactionRequest `json:"body"`
	}) (*struct {
		Body ReactionAccepted `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermBridge); err != nil {
			return nil, err
		}
		if cfg.Hub == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "reaction intake is not enabled", nil)
		}
		n := cfg.Hub.Publish(raid.ReactionEvent{
			MessageID:     input.Body.MessageID,
			Kind:          input.Body.Kind,
			ParticipantID: input.Body.ParticipantID,
			Removed:       input.Body.Removed,
		})
		if n == 0 {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no event watches this message", map[string]any{"message_id": input.Body.MessageID})
		}
		return &struct {
			Body ReactionAccepted `json:"body"`
		}{Body: ReactionAccepted{Delivered: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-dialog",
		Method:      http.MethodPost,
		Path:        "/bridge/dialogs/{dialog_id}",
		Summary:     "Answer a confirmation dialog",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogID string              `path:"dialog_id"`
		Body     DialogAnswerRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, PermBridge); err != nil {
			return nil, err
		}
		if cfg.Dialogs == nil {
			return nil, handleError(bridge.ErrUnknownDialog)
		}
		if err := cfg.Dialogs.Resolve(input.DialogID, input.Body.Accept); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "area-deleted",
		Method:      http.MethodPost,
		Path:        "/bridge/areas/deleted",
		Summary:     "Report a removed area",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body AreaDeletedRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, PermBridge); err != nil {
			return nil, err
		}
		if err := c.HandleAreaDeleted(ctx, input.Body.GuildID, input.Body.AreaID, input.Body.LastKnown); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "message-deleted",
		Method:      http.MethodPost,
		Path:        "/bridge/messages/deleted",
		Summary:     "Report a removed signup message",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body MessageDeletedRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, PermBridge); err != nil {
			return nil, err
		}
		if err := c.HandleMessageDeleted(ctx, input.Body.GuildID, input.Body.MessageID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerLedger(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-credits",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/credits",
		Summary:     "Participation credits",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GuildID       string `path:"guild_id"`
		ParticipantID string `query:"participant_id"`
	}) (*struct {
		Body CreditList `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		items, err := cfg.Repo.ListCredits(ctx, input.GuildID, input.ParticipantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreditList `json:"body"`
		}{Body: CreditList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/journal",
		Summary:     "Journal entries after a cursor",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GuildID string `path:"guild_id"`
		After   int64  `query:"after" minimum:"0"`
		Limit   int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body JournalPage `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermEventsRead); err != nil {
			return nil, err
		}
		items, err := cfg.Repo.ListJournal(ctx, input.GuildID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		page := JournalPage{Items: nonNil(items)}
		if len(items) > 0 {
			page.NextID = items[len(items)-1].ID
		}
		return &struct {
			Body JournalPage `json:"body"`
		}{Body: page}, nil
	})
}

func registerRoles(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/roles",
		Summary:     "Role grants of a guild",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *guildPath) (*struct {
		Body RoleList `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermRoles); err != nil {
			return nil, err
		}
		items, err := cfg.Repo.ListRoleGrants(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoleList `json:"body"`
		}{Body: RoleList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/guilds/{guild_id}/roles",
		Summary:     "Grant role",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GuildID string           `path:"guild_id"`
		Body    RoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, PermRoles); err != nil {
			return nil, err
		}
		grant := domain.RoleGrant{GuildID: input.GuildID, ParticipantID: input.Body.ParticipantID, Role: input.Body.Role}
		if err := cfg.Repo.GrantRole(ctx, grant, actorOrPrincipal(ctx, input.Body.ActorID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodDelete,
		Path:        "/guilds/{guild_id}/roles/{participant_id}/{role}",
		Summary:     "Revoke role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuildID       string `path:"guild_id"`
		ParticipantID string `path:"participant_id"`
		Role          string `path:"role"`
		ActorID       string `query:"actor_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, PermRoles); err != nil {
			return nil, err
		}
		err := cfg.Repo.RevokeRole(ctx, input.GuildID, input.ParticipantID, input.Role, actorOrPrincipal(ctx, input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func actorOrPrincipal(ctx context.Context, actorID string) string {
	if actorID != "" {
		return actorID
	}
	if p, ok := principalFromContext(ctx); ok {
		return p.ID
	}
	return ""
}
