package rest

import (
	"encoding/json"
	"net/http"

	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/model"
)

func (s *Server) HandleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	conf, err := s.executorService.GetSystemConfig(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conf)
}

func (s *Server) HandleSetSystemConfig(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var conf model.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&conf); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid system config: "+err.Error())
		return
	}
	if err := s.executorService.SetMaxConcurrentWorkflows(r.Context(), conf.MaxConcurrentWorkflows); err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conf)
}

func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, metrics.Snapshot())
}
