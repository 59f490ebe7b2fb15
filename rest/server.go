package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/metadata"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	metadataService *metadata.Service
	executorService *service.WorkflowExecutionService
}

func NewServer(httpPort int, metadataService *metadata.Service, executorService *service.WorkflowExecutionService) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		metadataService: metadataService,
		executorService: executorService,
		Port:            httpPort,
	}
	s.Handler = s.Router()
	return s, nil
}

// Router builds the route table. Fixed paths are registered before the {name} and {id} patterns they overlap.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/workflow/execution", s.HandleCreateExecution).Methods(http.MethodPost)
	router.HandleFunc("/workflow/execution/status/{status}", s.HandleListExecutionsByStatus).Methods(http.MethodGet)
	router.HandleFunc("/workflow/execution/asset/{assetId}", s.HandleListExecutionsByAsset).Methods(http.MethodGet)
	router.HandleFunc("/workflow/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/workflow/execution/{id}/history", s.HandleGetExecutionHistory).Methods(http.MethodGet)
	router.HandleFunc("/workflow/execution/{id}/error", s.HandleReportFailure).Methods(http.MethodPost)

	router.HandleFunc("/workflow/list/stage/{name}", s.HandleListWorkflowsByStage).Methods(http.MethodGet)
	router.HandleFunc("/workflow/list/operation/{name}", s.HandleListWorkflowsByOperation).Methods(http.MethodGet)
	router.HandleFunc("/workflow", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{name}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{name}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/stage", s.HandleCreateStage).Methods(http.MethodPost)
	router.HandleFunc("/stage", s.HandleListStages).Methods(http.MethodGet)
	router.HandleFunc("/stage/{name}", s.HandleGetStage).Methods(http.MethodGet)
	router.HandleFunc("/stage/{name}", s.HandleDeleteStage).Methods(http.MethodDelete)
	router.HandleFunc("/operation", s.HandleCreateOperation).Methods(http.MethodPost)
	router.HandleFunc("/operation", s.HandleListOperations).Methods(http.MethodGet)
	router.HandleFunc("/operation/{name}", s.HandleGetOperation).Methods(http.MethodGet)
	router.HandleFunc("/operation/{name}", s.HandleDeleteOperation).Methods(http.MethodDelete)

	router.HandleFunc("/system/config", s.HandleGetSystemConfig).Methods(http.MethodGet)
	router.HandleFunc("/system/config", s.HandleSetSystemConfig).Methods(http.MethodPut)

	router.HandleFunc("/asset/{id}", s.HandleGetAsset).Methods(http.MethodGet)
	router.HandleFunc("/queue/deadletter", s.HandleListDeadLetters).Methods(http.MethodGet)
	router.HandleFunc("/debug/metrics", s.HandleMetrics).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	return router
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithStoreError maps store errors to status codes.
func respondWithStoreError(w http.ResponseWriter, err error) {
	var exists persistence.AlreadyExistsError
	var storage persistence.StorageLayerError
	switch {
	case persistence.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &exists), persistence.IsVersionConflict(err), metadata.IsInUse(err):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &storage):
		respondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		respondWithError(w, http.StatusBadRequest, err.Error())
	}
}
