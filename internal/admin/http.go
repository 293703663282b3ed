package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/persist"
	"github.com/heliumdb/helium/internal/replication"
	"github.com/heliumdb/helium/internal/telemetry"
)

// HTTPConfig configures the administration HTTP surface.
type HTTPConfig struct {
	AllowedOrigins []string
	MaxRequestSize int64
}

// DefaultHTTPConfig returns sane defaults (1 MiB request bodies, any origin).
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{MaxRequestSize: 1 << 20}
}

// Handler is the HTTP entry point for the administration surface: JSON
// read endpoints, an apply/update POST surface, a /monitor websocket
// stream, a /schema GraphQL endpoint, and /metrics. Mirrors the
// teacher's pkg/server.Server, generalized from a single-collection CRUD
// API to node administration.
type Handler struct {
	svc       *Service
	cfg       HTTPConfig
	router    *chi.Mux
	startTime time.Time
	monitor   *MonitorHub
}

// NewHandler builds the chi router for svc.
func NewHandler(svc *Service, cfg HTTPConfig) (*Handler, error) {
	h := &Handler{svc: svc, cfg: cfg, router: chi.NewRouter(), startTime: time.Now(), monitor: NewMonitorHub()}

	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(middleware.Recoverer)
	h.router.Use(middleware.Logger)
	h.router.Use(h.corsMiddleware)
	h.router.Use(h.requestSizeLimitMiddleware)
	h.router.Use(middleware.Timeout(60 * time.Second))

	h.router.Get("/_health", h.jsonContentType(h.handleHealth))
	h.router.Get("/_node", h.jsonContentType(h.handleNodeState))
	h.router.Get("/_cluster", h.jsonContentType(h.handleClusterConfig))
	h.router.Get("/_assemblies", h.jsonContentType(h.handleGetAssemblies))

	h.router.Post("/_persist", h.jsonContentType(h.handleDeclarePersistenceDescriptor))
	h.router.Post("/_assemblies", h.jsonContentType(h.handleUpdateAssemblies))
	h.router.Post("/_trace-level", h.jsonContentType(h.handleSetTraceLevel))
	h.router.Post("/_user-trace-level", h.jsonContentType(h.handleSetUserTraceLevel))
	h.router.Post("/_primary", h.jsonContentType(h.handleBecomePrimary))
	h.router.Post("/_standby", h.jsonContentType(h.handleBecomeStandby))
	h.router.Post("/_primary-site", h.jsonContentType(h.handleBecomePrimarySite))
	h.router.Post("/_standby-site", h.jsonContentType(h.handleBecomeStandbySite))

	h.router.Get("/monitor", h.monitor.ServeHTTP)

	schemaHandler, err := NewSchemaHandler(svc)
	if err != nil {
		return nil, err
	}
	h.router.Post("/schema", schemaHandler.ServeHTTP)

	h.router.Handle("/metrics", MetricsHandler())

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.router.ServeHTTP(w, r) }

func (h *Handler) jsonContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(h.cfg.AllowedOrigins) > 0 {
			origin = h.cfg.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := h.cfg.MaxRequestSize
		if limit <= 0 {
			limit = 1 << 20
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// BadRequestError reports a malformed request body or parameter.
type BadRequestError struct{ Message string }

func (e *BadRequestError) Error() string { return e.Message }

func parseJSONBody(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &BadRequestError{Message: "failed to read request body"}
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return &BadRequestError{Message: "request body is empty"}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &BadRequestError{Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func writeSuccess(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, err error) {
	statusCode, errorType := http.StatusInternalServerError, "InternalError"
	switch e := err.(type) {
	case *BadRequestError:
		statusCode, errorType = http.StatusBadRequest, "BadRequest"
	case *errs.Error:
		statusCode, errorType = httpStatusFor(e)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": err.Error(),
		"code":    statusCode,
	})
}

// httpStatusFor maps an engine error's Kind to an HTTP status code and a
// stable error-type label for the JSON envelope.
func httpStatusFor(e *errs.Error) (int, string) {
	switch e.Kind {
	case errs.KindNotFound:
		return http.StatusNotFound, string(e.Kind)
	case errs.KindInvalidArgument, errs.KindConfiguration:
		return http.StatusBadRequest, string(e.Kind)
	case errs.KindTransactionConflict, errs.KindConstraintViolation:
		return http.StatusConflict, string(e.Kind)
	case errs.KindCluster:
		return http.StatusConflict, string(e.Kind)
	case errs.KindCommunication:
		return http.StatusGatewayTimeout, string(e.Kind)
	default:
		return http.StatusInternalServerError, string(e.Kind)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleNodeState(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.GetNodeState())
}

func (h *Handler) handleClusterConfig(w http.ResponseWriter, r *http.Request) {
	local, global, err := h.svc.GetClusterConfiguration()
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"local": local, "global": global})
}

func (h *Handler) handleGetAssemblies(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.GetAssemblies())
}

func (h *Handler) handleDeclarePersistenceDescriptor(w http.ResponseWriter, r *http.Request) {
	var cfg persist.StreamConfig
	if err := parseJSONBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.DeclarePersistenceDescriptor(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"declared": cfg.Name})
}

type updateAssembliesRequest struct {
	Assemblies map[string]string `json:"assemblies"`
}

func (h *Handler) handleUpdateAssemblies(w http.ResponseWriter, r *http.Request) {
	var req updateAssembliesRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	raw := make(map[string][]byte, len(req.Assemblies))
	for name, body := range req.Assemblies {
		raw[name] = []byte(body)
	}
	res := h.svc.UpdateAssemblies(raw, h.svc.Assemblies.Current().Registry)
	writeSuccess(w, res)
}

type traceLevelRequest struct {
	Level string `json:"level"`
}

func (h *Handler) handleSetTraceLevel(w http.ResponseWriter, r *http.Request) {
	var req traceLevelRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.svc.SetTraceLevel(telemetry.Level(req.Level))
	writeSuccess(w, map[string]interface{}{"level": req.Level})
}

type userTraceLevelRequest struct {
	Component string `json:"component"`
	Level     string `json:"level"`
}

func (h *Handler) handleSetUserTraceLevel(w http.ResponseWriter, r *http.Request) {
	var req userTraceLevelRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.svc.SetUserTraceLevel(req.Component, telemetry.Level(req.Level))
	writeSuccess(w, map[string]interface{}{"component": req.Component, "level": req.Level})
}

type becomePrimaryRequest struct {
	PeerReachable             bool `json:"peerReachable"`
	PeerConfirmsSelfAsPrimary bool `json:"peerConfirmsSelfAsPrimary"`
}

func (h *Handler) handleBecomePrimary(w http.ResponseWriter, r *http.Request) {
	var req becomePrimaryRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	peer := replication.PeerView{Reachable: req.PeerReachable, ConfirmsSelfAsPrimary: req.PeerConfirmsSelfAsPrimary}
	if err := h.svc.BecomePrimary(r.Context(), peer); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"role": "primary"})
}

func (h *Handler) handleBecomeStandby(w http.ResponseWriter, r *http.Request) {
	h.svc.BecomeStandby()
	writeSuccess(w, map[string]interface{}{"role": "standby"})
}

type becomePrimarySiteRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) handleBecomePrimarySite(w http.ResponseWriter, r *http.Request) {
	var req becomePrimarySiteRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.BecomePrimarySite(req.Force); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"role": "primary-site"})
}

func (h *Handler) handleBecomeStandbySite(w http.ResponseWriter, r *http.Request) {
	h.svc.BecomeStandbySite()
	writeSuccess(w, map[string]interface{}{"role": "standby-site"})
}
