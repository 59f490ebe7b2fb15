package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"go.uber.org/zap"
)

type failureRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) HandleCreateExecution(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req model.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid execution request: "+err.Error())
		return
	}
	exec, err := s.executorService.CreateExecution(r.Context(), &req)
	if err != nil {
		logger.Error("error creating execution", zap.String("workflow", req.Name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, exec)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executorService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exec)
}

func (s *Server) HandleGetExecutionHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.executorService.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (s *Server) HandleReportFailure(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := mux.Vars(r)["id"]
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		respondWithError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if err := s.executorService.ReportFailure(r.Context(), id, req.Reason); err != nil {
		logger.Error("error failing execution", zap.String("id", id), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"failed": true})
}

func (s *Server) HandleListExecutionsByStatus(w http.ResponseWriter, r *http.Request) {
	execs, err := s.executorService.ListByStatus(r.Context(), model.ExecutionStatus(mux.Vars(r)["status"]))
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, execs)
}

func (s *Server) HandleListExecutionsByAsset(w http.ResponseWriter, r *http.Request) {
	execs, err := s.executorService.ListByAsset(r.Context(), mux.Vars(r)["assetId"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, execs)
}

func (s *Server) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.executorService.GetAsset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, asset)
}

func (s *Server) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.executorService.ListDeadLetters(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msgs)
}
