// Package api exposes the conversation engine over HTTP/JSON. All state
// travels in the request: the caller sends the transcript and gets the
// extended transcript back.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/config"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Server struct {
	cfg     config.Config
	catalog *catalog.Catalog
	engine  *engine.Engine
	logger  *observability.Logger
	metrics *observability.APIMetrics
}

func New(cfg config.Config, cat *catalog.Catalog, eng *engine.Engine, logger *observability.Logger, metrics *observability.APIMetrics) *Server {
	return &Server{
		cfg:     cfg,
		catalog: cat,
		engine:  eng,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverJSONMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.requestContextTimeoutMiddleware)
	r.Use(s.maxBodyBytesMiddleware(s.cfg.RequestBodyMaxBytes))
	r.Use(s.requestObservabilityMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/audiences", func(r chi.Router) {
		r.Get("/", s.handleListAudiences)
		r.Get("/{audienceID}", s.handleGetAudience)
		r.Post("/{audienceID}/ask", s.handleAskGroup)
		r.Post("/{audienceID}/ask/{personaID}", s.handleAskPersona)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "focus-group-api",
		"mode":    "stateless",
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil || s.catalog.Len() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":    false,
			"error": "audience catalog is not loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", metricsContentType)
	_, _ = w.Write([]byte(s.metrics.Render()))
}

func (s *Server) handleListAudiences(w http.ResponseWriter, _ *http.Request) {
	audiences := make([]audienceSummary, 0, s.catalog.Len())
	for _, audience := range s.catalog.Audiences() {
		audiences = append(audiences, audienceSummary{
			ID:           audience.ID,
			Category:     audience.Category,
			Description:  audience.Description,
			PersonaCount: len(audience.Personas),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"audiences": audiences})
}

func (s *Server) handleGetAudience(w http.ResponseWriter, r *http.Request) {
	audienceID := chi.URLParam(r, "audienceID")
	audience, ok := s.catalog.Audience(audienceID)
	if !ok {
		writeNotFound(w, "audience '"+audienceID+"' not found")
		return
	}

	personas := make([]personaSummary, 0, len(audience.Personas))
	for _, p := range audience.Personas {
		personas = append(personas, personaSummary{
			ID:                p.ID,
			Name:              p.Name,
			Age:               p.Age,
			Occupation:        p.Occupation,
			Location:          p.Location,
			Backstory:         p.Backstory,
			PersonalityTraits: p.PersonalityTraits,
		})
	}

	writeJSON(w, http.StatusOK, audienceDetail{
		ID:          audience.ID,
		Category:    audience.Category,
		Description: audience.Description,
		Personas:    personas,
	})
}

func (s *Server) handleAskGroup(w http.ResponseWriter, r *http.Request) {
	audienceID := chi.URLParam(r, "audienceID")

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	question, err := validateQuestion(req.Question, s.cfg.QuestionMaxLen)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := validateHistory(req.History); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.engine.AskGroup(r.Context(), audienceID, question, req.History)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	responses := result.Responses
	if responses == nil {
		responses = []engine.Response{}
	}
	writeJSON(w, http.StatusOK, askGroupResponse{
		Responses: responses,
		Errors:    result.Failures,
		History:   result.History,
	})
}

func (s *Server) handleAskPersona(w http.ResponseWriter, r *http.Request) {
	audienceID := chi.URLParam(r, "audienceID")
	personaID, err := parsePersonaID(chi.URLParam(r, "personaID"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	question, err := validateQuestion(req.Question, s.cfg.QuestionMaxLen)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := validateHistory(req.History); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.engine.AskPersona(r.Context(), audienceID, personaID, question, req.History)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askPersonaResponse{
		Response: result.Response,
		History:  result.History,
	})
}

// writeEngineError maps engine failures onto the HTTP error taxonomy.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrAudienceNotFound), errors.Is(err, engine.ErrPersonaNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeGatewayTimeout(w, "llm provider timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; the status is best-effort.
		writeError(w, 499, "request cancelled")
	default:
		var provErr *engine.ProviderError
		if errors.As(err, &provErr) {
			s.logger.Error("provider_failure", observability.Fields{
				"request_id": requestIDFromRequest(r),
				"provider":   provErr.Provider,
				"operation":  provErr.Operation,
				"error":      provErr.Err.Error(),
			})
			writeBadGateway(w, "llm provider request failed")
			return
		}
		s.logger.Error("ask_failed", observability.Fields{
			"request_id": requestIDFromRequest(r),
			"error":      err.Error(),
		})
		writeInternalError(w, "internal server error")
	}
}
