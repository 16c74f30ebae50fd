package httpapi

import (
	"net/http"
	"time"

	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/intruder"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/payload"
	"github.com/vectorsuite/orchestrator/internal/stream"
)

// statusForError maps a classified error's kind to an HTTP status; an
// unclassified error falls back to 500.
func statusForError(err error) int {
	te, ok := errortax.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch te.Kind {
	case errortax.KindInvalidAttackConfig, errortax.KindInvalidPayloadConfig, errortax.KindValidationError, errortax.KindConfigurationError:
		return http.StatusBadRequest
	case errortax.KindPermissionDenied:
		return http.StatusForbidden
	case errortax.KindAuthenticationFailure, errortax.KindSessionExpired:
		return http.StatusUnauthorized
	case errortax.KindAgentUnavailable:
		return http.StatusServiceUnavailable
	case errortax.KindRateLimitExceeded, errortax.KindResourceExhaustion:
		return http.StatusTooManyRequests
	case errortax.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeClassifiedError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

// --- Agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

type registerAgentRequest struct {
	Hostname             string   `json:"hostname"`
	Capabilities         []string `json:"capabilities"`
	AdvertisedResponseMS int64    `json:"advertised_response_ms"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var in registerAgentRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	info := s.registry.Register(pathID(r), in.Hostname, in.Capabilities, in.AdvertisedResponseMS)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Heartbeat(pathID(r)) {
		writeError(w, http.StatusNotFound, errBody("unknown agent"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Intruder attacks ---

type distributionStrategyDTO struct {
	Kind      string `json:"kind"`
	BatchSize int    `json:"batch_size,omitempty"`
}

type createAttackRequest struct {
	Name                 string                  `json:"name"`
	RequestTemplate      string                  `json:"request_template"`
	BaseURL              string                  `json:"base_url"`
	Mode                 string                  `json:"mode"`
	PayloadSetIDs        []string                `json:"payload_set_ids"`
	TargetAgentIDs       []string                `json:"target_agent_ids"`
	DistributionStrategy distributionStrategyDTO `json:"distribution_strategy"`
	SessionID            string                  `json:"session_id,omitempty"`
	RequestTimeoutMS     int64                   `json:"request_timeout_ms,omitempty"`
}

func (in createAttackRequest) toInput() intruder.AttackConfigInput {
	return intruder.AttackConfigInput{
		Name:            in.Name,
		RequestTemplate: in.RequestTemplate,
		BaseURL:         in.BaseURL,
		Mode:            model.AttackMode(in.Mode),
		PayloadSetIDs:   in.PayloadSetIDs,
		TargetAgentIDs:  in.TargetAgentIDs,
		DistributionStrategy: distribute.Strategy{
			Kind:      distribute.StrategyKind(in.DistributionStrategy.Kind),
			BatchSize: in.DistributionStrategy.BatchSize,
		},
		SessionID:      in.SessionID,
		RequestTimeout: time.Duration(in.RequestTimeoutMS) * time.Millisecond,
	}
}

func (s *Server) handleCreateAttack(w http.ResponseWriter, r *http.Request) {
	var in createAttackRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := s.intruder.CreateAttack(r.Context(), in.toInput())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListAttacks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.intruder.ListAttacks(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetAttack(w http.ResponseWriter, r *http.Request) {
	rec, err := s.intruder.GetAttack(r.Context(), pathID(r))
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAttack(w http.ResponseWriter, r *http.Request) {
	if err := s.intruder.DeleteAttack(r.Context(), pathID(r)); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var in createAttackRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.intruder.ValidateConfig(r.Context(), in.toInput()); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) handleStartAttack(w http.ResponseWriter, r *http.Request) {
	if err := s.intruder.StartAttackExecution(r.Context(), pathID(r)); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleStopAttack(w http.ResponseWriter, r *http.Request) {
	if err := s.intruder.StopAttackExecution(r.Context(), pathID(r)); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePauseAttack(w http.ResponseWriter, r *http.Request) {
	if err := s.intruder.PauseAttackExecution(pathID(r)); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeAttack(w http.ResponseWriter, r *http.Request) {
	if err := s.intruder.ResumeAttackExecution(pathID(r)); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleAttackProgress(w http.ResponseWriter, r *http.Request) {
	progress, ok := s.intruder.GetAttackProgress(pathID(r))
	if !ok {
		writeError(w, http.StatusNotFound, errBody("attack not running"))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleActiveAttacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.intruder.GetActiveAttacks())
}

func (s *Server) handleExportResults(w http.ResponseWriter, r *http.Request) {
	format := stream.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = stream.FormatJSON
	}
	highlightedOnly := r.URL.Query().Get("highlighted_only") == "true"
	out, err := s.intruder.ExportAttackResults(r.Context(), pathID(r), format, highlightedOnly)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.Header().Set("Content-Type", exportContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func exportContentType(format stream.ExportFormat) string {
	switch format {
	case stream.FormatCSV:
		return "text/csv"
	case stream.FormatXML:
		return "application/xml"
	case stream.FormatHTML:
		return "text/html"
	default:
		return "application/json"
	}
}

// --- Payload sets ---

type createPayloadSetRequest struct {
	Name   string         `json:"name"`
	Config payload.Config `json:"config"`
}

func (s *Server) handleCreatePayloadSet(w http.ResponseWriter, r *http.Request) {
	var in createPayloadSetRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := s.intruder.CreatePayloadSet(r.Context(), in.Name, in.Config)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListPayloadSets(w http.ResponseWriter, r *http.Request) {
	recs, err := s.intruder.ListPayloadSets(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handlePreviewPayloads(w http.ResponseWriter, r *http.Request) {
	var cfg payload.Config
	if !decodeJSON(w, r, &cfg) {
		return
	}
	values, err := s.intruder.PreviewPayloads(cfg)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// --- Repeater ---

type createTabRequest struct {
	Name          string        `json:"name"`
	Request       model.Request `json:"request"`
	TargetAgentID string        `json:"target_agent_id,omitempty"`
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	var in createTabRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := s.repeater.CreateTab(r.Context(), in.Name, in.Request, in.TargetAgentID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repeater.ListTabs(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetTab(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repeater.GetTab(r.Context(), pathID(r))
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type executeRequestDTO struct {
	Request       model.Request `json:"request"`
	TargetAgentID string        `json:"target_agent_id,omitempty"`
	WithRetry     bool          `json:"with_retry,omitempty"`
}

func (s *Server) handleExecuteRequest(w http.ResponseWriter, r *http.Request) {
	var in executeRequestDTO
	if !decodeJSON(w, r, &in) {
		return
	}
	tabID := pathID(r)
	var (
		rec interface{}
		err error
	)
	if in.WithRetry {
		rec, err = s.repeater.ExecuteWithRetry(r.Context(), tabID, in.Request, in.TargetAgentID)
	} else {
		rec, err = s.repeater.ExecuteRequest(r.Context(), tabID, in.Request, in.TargetAgentID)
	}
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExecutionHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repeater.GetExecutionHistory(r.Context(), pathID(r))
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Sessions ---

func (s *Server) handleAddSession(w http.ResponseWriter, r *http.Request) {
	var sess model.Session
	if !decodeJSON(w, r, &sess) {
		return
	}
	if err := s.repeater.AddSession(sess); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.repeater.GetSessions())
}
