package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid workflow: "+err.Error())
		return
	}
	if err := s.metadataService.SaveWorkflow(r.Context(), &wf); err != nil {
		logger.Error("error creating workflow", zap.String("name", wf.Name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.metadataService.GetStore().ListWorkflows(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wfs)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	wf, err := s.metadataService.GetStore().GetWorkflow(r.Context(), name)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("name", name))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleCreateStage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var stage model.Stage
	if err := json.NewDecoder(r.Body).Decode(&stage); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid stage: "+err.Error())
		return
	}
	if err := s.metadataService.SaveStage(r.Context(), &stage); err != nil {
		logger.Error("error creating stage", zap.String("name", stage.Name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetStage(w http.ResponseWriter, r *http.Request) {
	stage, err := s.metadataService.GetStore().GetStage(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stage)
}

func (s *Server) HandleCreateOperation(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var op model.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid operation: "+err.Error())
		return
	}
	if err := s.metadataService.SaveOperation(r.Context(), &op); err != nil {
		logger.Error("error creating operation", zap.String("name", op.Name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.metadataService.GetStore().GetOperation(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, op)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.metadataService.DeleteWorkflow(r.Context(), name); err != nil {
		respondWithStoreError(w, err)
		return
	}
	logger.Info("workflow deleted", zap.String("name", name))
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandleListWorkflowsByStage(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.metadataService.WorkflowsUsingStage(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wfs)
}

func (s *Server) HandleListWorkflowsByOperation(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.metadataService.WorkflowsUsingOperation(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wfs)
}

func (s *Server) HandleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.metadataService.GetStore().ListStages(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stages)
}

func (s *Server) HandleDeleteStage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.metadataService.DeleteStage(r.Context(), name, forced(r)); err != nil {
		logger.Info("stage not deleted", zap.String("name", name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	logger.Info("stage deleted", zap.String("name", name))
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.metadataService.GetStore().ListOperations(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ops)
}

func (s *Server) HandleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.metadataService.DeleteOperation(r.Context(), name, forced(r)); err != nil {
		logger.Info("operation not deleted", zap.String("name", name), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	logger.Info("operation deleted", zap.String("name", name))
	respondOK(w, map[string]any{"deleted": true})
}

func forced(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}
