package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/position"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request correlation ID
const RequestIDHeader = "X-Request-ID"

// APIServer provides HTTP API for daemon control
type APIServer struct {
	daemon  *Daemon
	logger  *zap.Logger
	server  *http.Server
	handler *APIHandler
}

// APIHandler handles API requests
type APIHandler struct {
	daemon *Daemon
	logger *zap.Logger
}

// NewAPIServer creates a new API server
func NewAPIServer(daemon *Daemon, logger *zap.Logger) *APIServer {
	handler := &APIHandler{
		daemon: daemon,
		logger: logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handler.handleHealth)
	mux.HandleFunc("/api/v1/status", handler.handleStatus)

	// Resolution
	mux.HandleFunc("/api/v1/chart", handler.handleChart)
	mux.HandleFunc("/api/v1/values", handler.handleValues)
	mux.HandleFunc("/api/v1/references", handler.handleReferences)
	mux.HandleFunc("/api/v1/position", handler.handlePosition)
	mux.HandleFunc("/api/v1/invalidate", handler.handleInvalidate)

	// Override selections
	mux.HandleFunc("/api/v1/selections", handler.handleSelections)
	mux.HandleFunc("/api/v1/selections/remove", handler.handleRemoveSelection)

	mux.HandleFunc("/api/v1/warnings", handler.handleWarnings)
	mux.HandleFunc("/api/v1/shutdown", handler.handleShutdown)

	return &APIServer{
		daemon:  daemon,
		logger:  logger,
		server:  &http.Server{Handler: withRequestID(mux, logger), ReadHeaderTimeout: 10 * time.Second},
		handler: handler,
	}
}

// Handler returns the routed API handler
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Serve serves the API on listener in the background
func (s *APIServer) Serve(listener net.Listener) {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Stop stops the API server
func (s *APIServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// withRequestID tags every request with an ID, echoing a caller-provided one
func withRequestID(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request served",
			zap.String("requestID", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.sendJSON(w, h.daemon.GetStatus())
}

func (h *APIHandler) handleChart(w http.ResponseWriter, r *http.Request) {
	var req ChartRequest
	if !h.decode(w, r, &req) {
		return
	}

	service := h.daemon.Service()
	node, ok := service.DetectChart(r.Context(), req.Location)
	if !ok {
		h.sendError(w, fmt.Sprintf("No chart found for %s", req.Location), http.StatusNotFound)
		return
	}

	subcharts := service.DiscoverSubcharts(r.Context(), node.Root)
	if subcharts == nil {
		subcharts = []chart.Subchart{}
	}
	h.sendJSON(w, ChartResponse{
		Chart:        node,
		Subcharts:    subcharts,
		OverrideFile: service.SelectedOverride(node),
	})
}

func (h *APIHandler) handleValues(w http.ResponseWriter, r *http.Request) {
	var req ValuesRequest
	if !h.decode(w, r, &req) {
		return
	}

	service := h.daemon.Service()
	node, ok := service.DetectChart(r.Context(), req.Location)
	if !ok {
		h.sendError(w, fmt.Sprintf("No chart found for %s", req.Location), http.StatusNotFound)
		return
	}

	resp := ValuesResponse{Chart: node.Root, OverrideFile: req.OverrideFile}
	var vals map[string]any
	switch {
	case req.OverrideFile == "":
		resp.OverrideFile = service.SelectedOverride(node)
		vals = service.EffectiveValues(r.Context(), node)
	case node.IsSubchart:
		vals = service.GetValuesForSubchart(r.Context(), node, req.OverrideFile)
	default:
		vals = service.GetValues(r.Context(), node, req.OverrideFile)
	}

	if req.Path == "" {
		resp.Values = vals
		resp.Found = true
	} else {
		resp.Value, resp.Found = service.ResolveValuePath(vals, req.Path)
	}
	h.sendJSON(w, resp)
}

func (h *APIHandler) handleReferences(w http.ResponseWriter, r *http.Request) {
	var req ReferencesRequest
	if !h.decode(w, r, &req) {
		return
	}

	inspection, ok := h.daemon.Service().Inspect(r.Context(), req.File, req.Text)
	if !ok {
		h.sendError(w, fmt.Sprintf("No chart found for %s", req.File), http.StatusNotFound)
		return
	}
	h.sendJSON(w, inspection)
}

func (h *APIHandler) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		h.sendError(w, "Path is required", http.StatusBadRequest)
		return
	}

	service := h.daemon.Service()
	var (
		pos position.ValuePosition
		ok  bool
	)
	switch {
	case req.ArchivePath != "":
		pos, ok = service.FindPositionInArchive(r.Context(), req.ArchivePath, req.Path, position.SourceDefault)
	default:
		node, detected := service.DetectChart(r.Context(), req.Location)
		if !detected {
			h.sendError(w, fmt.Sprintf("No chart found for %s", req.Location), http.StatusNotFound)
			return
		}
		switch {
		case req.OverrideFile == "":
			pos, ok = service.Locate(r.Context(), node, req.Path)
		case node.IsSubchart:
			pos, ok = service.FindPositionInChainNested(r.Context(), node, req.OverrideFile, req.Path)
		default:
			pos, ok = service.FindPositionInChain(r.Context(), node, req.OverrideFile, req.Path)
		}
	}

	resp := PositionResponse{Found: ok}
	if ok {
		resp.Position = &pos
	}
	h.sendJSON(w, resp)
}

func (h *APIHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	service := h.daemon.Service()
	switch {
	case req.All:
		service.ClearAll()
		h.logger.Info("all caches cleared via API")
		h.sendSuccess(w, "All caches cleared")
	case req.ChartRoot == "":
		h.sendError(w, "chartRoot or all is required", http.StatusBadRequest)
	case req.Immediate:
		service.InvalidateCacheImmediate(req.ChartRoot)
		h.sendSuccess(w, fmt.Sprintf("Cache invalidated: %s", req.ChartRoot))
	default:
		service.InvalidateCache(req.ChartRoot)
		h.sendSuccess(w, fmt.Sprintf("Cache invalidation scheduled: %s", req.ChartRoot))
	}
}

func (h *APIHandler) handleSelections(w http.ResponseWriter, r *http.Request) {
	service := h.daemon.Service()
	switch r.Method {
	case http.MethodGet:
		h.sendJSON(w, SelectionsResponse{Selections: service.Selections().List()})
	case http.MethodPost:
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		if err := service.SelectOverride(req.Chart, req.Values); err != nil {
			h.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("override selected via API",
			zap.String("chart", req.Chart),
			zap.String("values", req.Values))
		h.sendSuccess(w, fmt.Sprintf("Override selected: %s → %s", req.Chart, req.Values))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *APIHandler) handleRemoveSelection(w http.ResponseWriter, r *http.Request) {
	var req RemoveSelectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.daemon.Service().ClearOverride(req.Chart); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("override cleared via API", zap.String("chart", req.Chart))
	h.sendSuccess(w, fmt.Sprintf("Override cleared: %s", req.Chart))
}

func (h *APIHandler) handleWarnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.sendJSON(w, WarningsResponse{Warnings: h.daemon.Service().Warnings()})
}

func (h *APIHandler) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("shutdown requested via API")
	h.sendSuccess(w, "Shutting down...")

	// respond before the server starts shutting down
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.daemon.requestShutdown("api")
	}()
}

// decode reads a JSON POST body into v, replying with an error on failure
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func (h *APIHandler) sendSuccess(w http.ResponseWriter, message string) {
	h.sendJSON(w, SuccessResponse{Message: message})
}
