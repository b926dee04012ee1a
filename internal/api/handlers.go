package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apierrors "gatekeep/internal/errors"
	"gatekeep/internal/pipeline"
	"gatekeep/internal/schema"
)

// errorResponse is the structured error body for every rejection.
type errorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Timestamp string `json:"timestamp"`
	VerdictID string `json:"verdict_id,omitempty"`
	RiskScore float64 `json:"risk_score,omitempty"`
}

// verdictResponse is the body returned for processed events.
type verdictResponse struct {
	VerdictID      string  `json:"verdict_id"`
	EventID        string  `json:"event_id"`
	Action         string  `json:"action"`
	RiskScore      float64 `json:"risk_score"`
	Classification string  `json:"classification"`
	Escalated      bool    `json:"escalated,omitempty"`
	Degraded       bool    `json:"degraded,omitempty"`
	FastPath       bool    `json:"fast_path,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

func (s *Server) handleHTTPEvent(w http.ResponseWriter, r *http.Request) {
	var desc schema.HTTPDescriptor
	if !s.decode(w, r, &desc) {
		return
	}

	s.metrics.ObserveEvent(string(schema.KindHTTP))
	event, err := s.normalizer.FromHTTP(&desc)
	if err != nil {
		s.rejectMalformed(w, err)
		return
	}
	s.finalize(w, r, s.pipeline.Process(r.Context(), event))
}

func (s *Server) handleNetworkEvent(w http.ResponseWriter, r *http.Request) {
	var desc schema.NetworkDescriptor
	if !s.decode(w, r, &desc) {
		return
	}

	s.metrics.ObserveEvent(string(schema.KindNetwork))
	event, err := s.normalizer.FromNetwork(&desc)
	if err != nil {
		s.rejectMalformed(w, err)
		return
	}
	s.finalize(w, r, s.pipeline.Process(r.Context(), event))
}

func (s *Server) handleAccessEvent(w http.ResponseWriter, r *http.Request) {
	var desc schema.AccessDescriptor
	if !s.decode(w, r, &desc) {
		return
	}

	s.metrics.ObserveEvent(string(schema.KindAccess))
	event, err := s.normalizer.FromAccess(&desc)
	if err != nil {
		s.rejectMalformed(w, err)
		return
	}
	s.finalize(w, r, s.pipeline.Process(r.Context(), event))
}

// decode reads the JSON body under the payload size limit. Returns
// false after writing the error response.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxPayloadSize))

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// rejectMalformed handles normalization failures. Missing identity is
// a fail-safe block reported as a 400; nothing is scored or audited
// because there is no subject to attribute the event to.
func (s *Server) rejectMalformed(w http.ResponseWriter, err error) {
	s.logger.Warn("event rejected at normalization", "error", err)
	s.writeError(w, http.StatusBadRequest, apierrors.SafeMessage(err))
}

// finalize applies side effects, records the verdict, and writes the
// response.
func (s *Server) finalize(w http.ResponseWriter, r *http.Request, out *pipeline.Outcome) {
	v := out.Verdict

	if err := s.executor.Apply(r.Context(), out); err != nil {
		s.logger.Error("response execution failed",
			"verdict_id", v.VerdictID, "error", err)
	}
	if err := s.sink.Record(r.Context(), v); err != nil {
		s.logger.Error("audit record failed",
			"verdict_id", v.VerdictID, "error", err)
	}

	if v.Action != schema.ActionAllow {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(errorResponse{
			Error:     v.Reason,
			Code:      http.StatusForbidden,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			VerdictID: v.VerdictID.String(),
			RiskScore: v.RiskScore,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verdictResponse{
		VerdictID:      v.VerdictID.String(),
		EventID:        v.EventID.String(),
		Action:         string(v.Action),
		RiskScore:      v.RiskScore,
		Classification: string(v.Classification),
		Escalated:      v.Escalated,
		Degraded:       v.Degraded,
		FastPath:       v.FastPath,
		Reason:         v.Reason,
	})
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error:     msg,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	quarantined, err := s.quarantine.Count(r.Context())
	status := "healthy"
	if err != nil {
		status = "degraded"
		s.logger.Warn("quarantine store health check failed", "error", err)
	}
	s.metrics.SetQuarantineSize(quarantined)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"quarantined":    quarantined,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
