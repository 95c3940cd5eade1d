package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kirillkom/marketplace-categorizer/internal/config"
	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg        config.Config
	classifier ports.ProductClassifier
	catalog    ports.MarketplaceCatalog
	reloader   ports.TaxonomyReloader
	metrics    *metrics.HTTPServerMetrics
}

// NewRouter builds the API router. reloader and httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	classifier ports.ProductClassifier,
	catalog ports.MarketplaceCatalog,
	reloader ports.TaxonomyReloader,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:        cfg,
		classifier: classifier,
		catalog:    catalog,
		reloader:   reloader,
		metrics:    httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/marketplaces", rt.listMarketplaces)
	mux.HandleFunc("/v1/classify", rt.classify)
	mux.HandleFunc("/v1/taxonomies/reload", rt.reloadTaxonomies)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = bearerAuthMiddleware(handler, rt.cfg.APIAuthToken)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName, r.URL.Path)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	dataDir := rt.cfg.DataDir
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	names := []string{}
	for _, m := range rt.catalog.Marketplaces() {
		names = append(names, m.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"data_dir":     dataDir,
		"marketplaces": names,
	})
}

func (rt *Router) listMarketplaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketplaces": rt.catalog.Marketplaces()})
}

type classifyRequest struct {
	Marketplace       string         `json:"marketplace"`
	Product           map[string]any `json:"product"`
	Provider          string         `json:"provider"`
	IncludeConfidence bool           `json:"include_confidence"`
}

type classifyAllResponse struct {
	SKU     string                        `json:"sku,omitempty"`
	Results []domain.ClassificationResult `json:"results"`
}

func (rt *Router) classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req classifyRequest
	if err := decodeJSONBody(w, r, rt.cfg.APIMaxBodyBytes, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if len(req.Product) == 0 {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("product is required")))
		return
	}

	domainReq := domain.ClassifyRequest{
		Marketplace:       strings.TrimSpace(req.Marketplace),
		Product:           req.Product,
		Provider:          req.Provider,
		IncludeConfidence: req.IncludeConfidence,
	}
	if domainReq.Marketplace != "" {
		result, err := rt.classifier.Classify(r.Context(), domainReq)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	results, err := rt.classifier.ClassifyAll(r.Context(), domainReq)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.ClassificationResult{}
	}
	sku, _ := req.Product["sku"].(string)
	writeJSON(w, http.StatusOK, classifyAllResponse{SKU: sku, Results: results})
}

func (rt *Router) reloadTaxonomies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if rt.reloader == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "taxonomy reload is not available"})
		return
	}

	err := rt.reloader.Reload(r.Context())
	if rt.metrics != nil {
		rt.metrics.RecordTaxonomyReload(serviceName, err)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "reloaded",
		"marketplaces": rt.catalog.Marketplaces(),
	})
}

// decodeJSONBody reads exactly one JSON object. Numbers stay json.Number so
// numeric product fields keep their original text.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, out any) error {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	if dec.More() {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("unexpected data after json object"))
	}
	return nil
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
