package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/core/ports"
	"github.com/kirillkom/tomd/internal/observability/metrics"
)

const serviceName = "api"

// Version is reported by /healthz. It is overridden at link time.
var Version = "dev"

type Dependencies struct {
	Files    ports.FileService
	Starter  ports.ConversionStarter
	Jobs     ports.JobService
	Settings ports.SettingsService
	Catalog  ports.ConverterCatalog
	Metrics  *metrics.HTTPServerMetrics
	Logger   *slog.Logger
}

type Router struct {
	files    ports.FileService
	starter  ports.ConversionStarter
	jobs     ports.JobService
	settings ports.SettingsService
	catalog  ports.ConverterCatalog
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger

	validator *requestValidator

	authToken          string
	rateLimitRPS       float64
	rateLimitBurst     int
	maxInFlight        int
	overloadWait       time.Duration
	corsAllowedOrigins []string
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		files:    deps.Files,
		starter:  deps.Starter,
		jobs:     deps.Jobs,
		settings: deps.Settings,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
		logger:   logger,

		validator: validator,

		authToken:          cfg.APIAuthToken,
		rateLimitRPS:       cfg.APIRateLimitRPS,
		rateLimitBurst:     cfg.APIRateLimitBurst,
		maxInFlight:        cfg.APIMaxInFlight,
		overloadWait:       cfg.APIOverloadWait,
		corsAllowedOrigins: cfg.CORSAllowedOrigins,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPIDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("GET /v1/converters", rt.listConverters)

	mux.HandleFunc("POST /v1/upload", rt.uploadFiles)
	mux.HandleFunc("GET /v1/upload/{id}", rt.getFile)
	mux.HandleFunc("DELETE /v1/upload/{id}", rt.removeFile)

	mux.HandleFunc("POST /v1/start", rt.startConversion)

	mux.HandleFunc("GET /v1/jobs", rt.listJobs)
	mux.HandleFunc("POST /v1/jobs/delete-multiple", rt.deleteJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", rt.getJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", rt.deleteJob)

	mux.HandleFunc("GET /v1/preview/{id}", rt.previewJob)
	mux.HandleFunc("GET /v1/download/{id}", rt.downloadJob)
	mux.HandleFunc("POST /v1/download-multiple", rt.downloadJobs)

	mux.HandleFunc("GET /v1/settings", rt.getSettings)
	mux.HandleFunc("PUT /v1/settings", rt.updateSettings)
	mux.HandleFunc("DELETE /v1/settings/api-key", rt.clearAPIKey)

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.overloadWait, rt.rejected)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst, rt.rejected)
	handler = authMiddleware(rt.authToken, rt.rejected, handler)
	handler = corsMiddleware(rt.corsAllowedOrigins, handler)
	handler = recoverMiddleware(rt.logger, handler)
	if rt.metrics != nil {
		// Sits directly above handlers that keep the request pointer so the
		// matched mux pattern is visible as the route label.
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (rt *Router) rejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

// decodeJSON reads a request body that already passed schema validation.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps a use case error onto its HTTP status.
func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}
