package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/google/uuid"
	perrors "github.com/jmgilman/go/errors"

	"github.com/richardartoul/docpdf/pkg/auth"
	"github.com/richardartoul/docpdf/pkg/cache"
	"github.com/richardartoul/docpdf/pkg/document"
	"github.com/richardartoul/docpdf/pkg/metrics"
	"github.com/richardartoul/docpdf/pkg/pdf"
	"github.com/richardartoul/docpdf/pkg/settings"
)

const (
	apiPrefix       = "/v2/gotenberg"
	requestIDHeader = "X-Request-Id"
)

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// ConfigDTO is the wire form of the conversion settings.
type ConfigDTO struct {
	URL     string          `json:"url"`
	Enabled bool            `json:"enabled"`
	Links   map[string]Link `json:"_links,omitempty"`
}

// LinksDTO tells a client whether a file has a PDF rendition.
type LinksDTO struct {
	Supported bool            `json:"supported"`
	Links     map[string]Link `json:"_links,omitempty"`
}

// IndexDTO lists the entry points a caller may use.
type IndexDTO struct {
	Links map[string]Link `json:"_links"`
}

// StatsDTO is served at /debug/stats.
type StatsDTO struct {
	Metrics      metrics.Snapshot        `json:"metrics"`
	Repositories []cache.RepositoryStats `json:"repositories"`
}

// Server exposes the PDF service and its settings over HTTP.
type Server struct {
	service  *pdf.Service
	settings *settings.Store
	auth     *auth.Authenticator
	caches   *cache.Registry
	metrics  *metrics.Recorder
	logger   *slog.Logger

	handler http.Handler
}

// NewServer creates the HTTP handler. caches and recorder may be nil; the
// stats endpoint then reports nothing for them.
func NewServer(
	service *pdf.Service,
	store *settings.Store,
	authenticator *auth.Authenticator,
	caches *cache.Registry,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service:  service,
		settings: store,
		auth:     authenticator,
		caches:   caches,
		metrics:  recorder,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+apiPrefix+"/{$}", gziphandler.GzipHandler(http.HandlerFunc(s.handleIndex)))
	mux.HandleFunc("GET "+apiPrefix+"/pdf/{namespace}/{name}/{revision}/{path...}", s.handlePDF)
	mux.Handle("GET "+apiPrefix+"/config", gziphandler.GzipHandler(http.HandlerFunc(s.handleGetConfig)))
	mux.HandleFunc("PUT "+apiPrefix+"/config", s.handlePutConfig)
	mux.Handle("GET "+apiPrefix+"/links/{namespace}/{name}/{revision}/{path...}", gziphandler.GzipHandler(http.HandlerFunc(s.handleLinks)))
	mux.Handle("GET /debug/stats", gziphandler.GzipHandler(http.HandlerFunc(s.handleStats)))

	s.handler = s.withRequestID(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type loggerKey struct{}

// withRequestID assigns every request an id, echoes it in the response and
// attaches it to the request logger.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With("request_id", id)
		r = r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger))

		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("handled request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return s.logger
}

func refFromRequest(r *http.Request) document.Ref {
	return document.NewRef(
		r.PathValue("namespace"),
		r.PathValue("name"),
		r.PathValue("revision"),
		r.PathValue("path"),
	)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	logger := s.requestLogger(r)

	rc, err := s.service.GetOrConvert(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, pdf.StatusCode(err), err)
		return
	}
	defer rc.Close()

	name := ref.Filename()
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	name += ".pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("failed to stream pdf", "document", ref.String(), "error", err)
	}
}

// handleIndex links the configuration for callers allowed to read it.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	dto := IndexDTO{Links: map[string]Link{
		"self": {Href: apiPrefix + "/"},
	}}
	if _, err := s.authorize(r, auth.PermissionReadConfig); err == nil {
		dto.Links["gotenbergConfig"] = Link{Href: apiPrefix + "/config"}
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authorize(r, auth.PermissionReadConfig)
	if err != nil {
		s.writeError(w, r, httpStatus(err), err)
		return
	}

	current := s.settings.Get()
	dto := ConfigDTO{
		URL:     current.URL,
		Enabled: current.Enabled,
		Links: map[string]Link{
			"self": {Href: apiPrefix + "/config"},
		},
	}
	if claims.Has(auth.PermissionWriteConfig) {
		dto.Links["update"] = Link{Href: apiPrefix + "/config"}
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authorize(r, auth.PermissionWriteConfig); err != nil {
		s.writeError(w, r, httpStatus(err), err)
		return
	}

	var dto ConfigDTO
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&dto); err != nil {
		err = perrors.Wrap(err, perrors.CodeInvalidInput, "malformed configuration")
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.settings.Set(settings.Settings{URL: dto.URL, Enabled: dto.Enabled}); err != nil {
		code := perrors.CodeInternal
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrInvalid) {
			code = perrors.CodeInvalidConfig
			status = http.StatusBadRequest
		}
		s.writeError(w, r, status, perrors.Wrap(err, code, err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)

	dto := LinksDTO{Supported: s.service.IsSupported(ref.Path)}
	if dto.Supported && s.settings.Get().Enabled {
		dto.Links = map[string]Link{"pdf": {Href: pdfHref(ref)}}
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

// pdfHref builds the URL of the rendition of ref, escaping each segment.
func pdfHref(ref document.Ref) string {
	segments := []string{
		url.PathEscape(ref.Namespace),
		url.PathEscape(ref.Name),
		url.PathEscape(ref.Revision),
	}
	for _, part := range strings.Split(ref.Path, "/") {
		segments = append(segments, url.PathEscape(part))
	}
	return apiPrefix + "/pdf/" + strings.Join(segments, "/")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dto := StatsDTO{Metrics: s.metrics.Snapshot()}
	if s.caches != nil {
		dto.Repositories = s.caches.Stats()
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

// authorize verifies the bearer token of r and checks it grants permission.
func (s *Server) authorize(r *http.Request, permission string) (*auth.Claims, error) {
	claims, err := s.auth.FromRequest(r)
	if err != nil {
		if errors.Is(err, auth.ErrDisabled) {
			return nil, perrors.Wrap(err, perrors.CodeForbidden, "configuration access is disabled")
		}
		return nil, perrors.Wrap(err, perrors.CodeUnauthorized, "missing or invalid bearer token")
	}
	if !claims.Has(permission) {
		return nil, perrors.WithContext(
			perrors.New(perrors.CodeForbidden, "permission denied"),
			"permission", permission,
		)
	}
	return claims, nil
}

// httpStatus maps the code of a platform error to a status.
func httpStatus(err error) int {
	switch perrors.GetCode(err) {
	case perrors.CodeInvalidInput, perrors.CodeInvalidConfig:
		return http.StatusBadRequest
	case perrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case perrors.CodeForbidden:
		return http.StatusForbidden
	case perrors.CodeNotFound:
		return http.StatusNotFound
	case perrors.CodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON platform error. Conversion server failures
// are reported as plain text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logger := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	resp := perrors.ToJSON(err)
	if status == http.StatusBadGateway {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp.Message+"\n")
		return
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.requestLogger(r).Warn("failed to write response", "error", err)
	}
}
