// Package httpapi is a thin REST transport over the Intruder/Repeater
// façades and the agent registry. It exists so the core operations can be
// driven end to end the way an external admin surface would drive them; it
// holds no orchestration logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/intruder"
	"github.com/vectorsuite/orchestrator/internal/repeater"
)

// Server wires the Intruder/Repeater façades and the agent registry behind
// a small REST surface. It holds no orchestration logic of its own.
type Server struct {
	router   *mux.Router
	intruder *intruder.Facade
	repeater *repeater.Facade
	registry *agent.Registry
}

// New builds a Server and registers every route.
func New(intruderFacade *intruder.Facade, repeaterFacade *repeater.Facade, registry *agent.Registry) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		intruder: intruderFacade,
		repeater: repeaterFacade,
		registry: registry,
	}
	s.registerRoutes()
	return s
}

// Router exposes the underlying mux.Router, e.g. for http.ListenAndServe or
// attaching promhttp.Handler for /metrics.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/register", s.handleRegisterAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)

	r.HandleFunc("/attacks", s.handleCreateAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks", s.handleListAttacks).Methods(http.MethodGet)
	r.HandleFunc("/attacks/active", s.handleActiveAttacks).Methods(http.MethodGet)
	r.HandleFunc("/attacks/{id}", s.handleGetAttack).Methods(http.MethodGet)
	r.HandleFunc("/attacks/{id}", s.handleDeleteAttack).Methods(http.MethodDelete)
	r.HandleFunc("/attacks/{id}/validate", s.handleValidateConfig).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id}/start", s.handleStartAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id}/stop", s.handleStopAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id}/pause", s.handlePauseAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id}/resume", s.handleResumeAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id}/progress", s.handleAttackProgress).Methods(http.MethodGet)
	r.HandleFunc("/attacks/{id}/export", s.handleExportResults).Methods(http.MethodGet)

	r.HandleFunc("/payload-sets", s.handleCreatePayloadSet).Methods(http.MethodPost)
	r.HandleFunc("/payload-sets", s.handleListPayloadSets).Methods(http.MethodGet)
	r.HandleFunc("/payload-sets/preview", s.handlePreviewPayloads).Methods(http.MethodPost)

	r.HandleFunc("/repeater/tabs", s.handleCreateTab).Methods(http.MethodPost)
	r.HandleFunc("/repeater/tabs", s.handleListTabs).Methods(http.MethodGet)
	r.HandleFunc("/repeater/tabs/{id}", s.handleGetTab).Methods(http.MethodGet)
	r.HandleFunc("/repeater/tabs/{id}/execute", s.handleExecuteRequest).Methods(http.MethodPost)
	r.HandleFunc("/repeater/tabs/{id}/history", s.handleExecutionHistory).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleAddSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Message: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, errBodyRequired)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

var errBodyRequired = errBody("request body required")

type errBody string

func (e errBody) Error() string { return string(e) }
