package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"neighbor-assist/pkg/assist"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/profile"
	"neighbor-assist/pkg/ratelimit"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; the longest legitimate one is a
// batch of candidate profiles.
const maxBodyBytes = 1 << 20

type explainRequest struct {
	Viewer    profile.Profile `json:"viewer"`
	Candidate profile.Profile `json:"candidate"`
}

type explainBatchRequest struct {
	Viewer     profile.Profile   `json:"viewer"`
	Candidates []profile.Profile `json:"candidates"`
}

type suggestRequest struct {
	Sender   profile.Profile `json:"sender"`
	Receiver profile.Profile `json:"receiver"`
	Context  string          `json:"context,omitempty"`
}

type translateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
	SourceLang string `json:"sourceLang,omitempty"`
}

type respondersRequest struct {
	EmergencyType string             `json:"emergencyType"`
	Responders    []assist.Responder `json:"responders"`
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns detailed status information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "running",
		"timestamp":         time.Now().Unix(),
		"uptime":            time.Since(s.startedAt).String(),
		"generationEnabled": s.assist.GenerationEnabled(),
		"generationBreaker": s.assist.Adapter().Breaker().State().String(),
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, profile.Languages())
}

// handleMetricsJSON returns metrics in JSON format.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if mc, ok := s.metrics.(interface{ Snapshot() interface{} }); ok {
		writeJSON(w, http.StatusOK, mc.Snapshot())
		return
	}

	writeError(w, r, http.StatusNotImplemented, errors.New("metrics collector does not support JSON snapshot"))
}

// handleCacheStats returns per-feature cache statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"caches":    s.assist.CacheStats(),
	})
}

// handleInvalidate drops cached content mentioning a participant.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	removed, err := s.assist.Invalidate(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participantId": id,
		"removed":       removed,
	})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("top must be a non-negative integer"))
			return
		}
		top = n
	}

	out := map[string]ratelimit.Stats{}
	if s.ipLimiter != nil {
		out["ip"] = s.ipLimiter.Stats(top)
	}
	if s.userLimiter != nil {
		out["user"] = s.userLimiter.Stats(top)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if !decode(w, r, &req) {
		return
	}

	exp, err := s.assist.Explain(r.Context(), req.Viewer, req.Candidate)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExplainBatch(w http.ResponseWriter, r *http.Request) {
	var req explainBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Viewer.ID == "" {
		writeError(w, r, http.StatusBadRequest, assist.ErrMissingIdentifier)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": s.assist.ExplainBatch(r.Context(), req.Viewer, req.Candidates),
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := s.assist.Suggest(r.Context(), req.Sender, req.Receiver, req.Context)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := s.assist.Translate(r.Context(), req.Text, req.TargetLang, req.SourceLang)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResponders(w http.ResponseWriter, r *http.Request) {
	var req respondersRequest
	if !decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, s.assist.RankResponders(r.Context(), req.EmergencyType, req.Responders))
}

// statusFor maps local validation errors to client error statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generate.ErrTextTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generate.ErrUnsupportedLanguage), errors.Is(err, assist.ErrMissingIdentifier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// writeError writes {"error": ...} and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), nil).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]interface{}{
		"error":     err.Error(),
		"requestId": w.Header().Get(headerRequestID),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
