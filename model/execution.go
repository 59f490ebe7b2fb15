package model

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const EXECUTION_STATUS_QUEUED ExecutionStatus = "Queued"
const EXECUTION_STATUS_STARTED ExecutionStatus = "Started"
const EXECUTION_STATUS_RUNNING_STAGE ExecutionStatus = "Running Stage"
const EXECUTION_STATUS_WAITING ExecutionStatus = "Waiting"
const EXECUTION_STATUS_COMPLETE ExecutionStatus = "Complete"
const EXECUTION_STATUS_ERROR ExecutionStatus = "Error"

// ActiveStatuses are the statuses counted against MaxConcurrentWorkflows.
var ActiveStatuses = []ExecutionStatus{
	EXECUTION_STATUS_STARTED,
	EXECUTION_STATUS_RUNNING_STAGE,
	EXECUTION_STATUS_WAITING,
}

var AllStatuses = []ExecutionStatus{
	EXECUTION_STATUS_QUEUED,
	EXECUTION_STATUS_STARTED,
	EXECUTION_STATUS_RUNNING_STAGE,
	EXECUTION_STATUS_WAITING,
	EXECUTION_STATUS_COMPLETE,
	EXECUTION_STATUS_ERROR,
}

func (s ExecutionStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == EXECUTION_STATUS_COMPLETE || s == EXECUTION_STATUS_ERROR
}

func (s ExecutionStatus) IsValid() bool {
	for _, a := range AllStatuses {
		if s == a {
			return true
		}
	}
	return false
}

type StageStatus string

const STAGE_STATUS_NOT_STARTED StageStatus = "Not Started"
const STAGE_STATUS_STARTED StageStatus = "Started"
const STAGE_STATUS_EXECUTING StageStatus = "Executing"
const STAGE_STATUS_WAITING StageStatus = "Waiting"
const STAGE_STATUS_COMPLETE StageStatus = "Complete"
const STAGE_STATUS_ERROR StageStatus = "Error"

func (s StageStatus) IsTerminal() bool {
	return s == STAGE_STATUS_COMPLETE || s == STAGE_STATUS_ERROR
}

type OperationStatus string

const OPERATION_STATUS_NOT_STARTED OperationStatus = "Not Started"
const OPERATION_STATUS_STARTED OperationStatus = "Started"
const OPERATION_STATUS_WAITING OperationStatus = "Waiting"
const OPERATION_STATUS_COMPLETE OperationStatus = "Complete"
const OPERATION_STATUS_ERROR OperationStatus = "Error"
const OPERATION_STATUS_SKIPPED OperationStatus = "Skipped"

func (s OperationStatus) IsTerminal() bool {
	return s == OPERATION_STATUS_COMPLETE || s == OPERATION_STATUS_ERROR || s == OPERATION_STATUS_SKIPPED
}

// END_STAGE is the CurrentStage of an execution that has no more stages to run.
const END_STAGE = "End"

type Globals struct {
	Media    map[string]any `json:"media"`
	MetaData map[string]any `json:"metaData"`
}

func NewGlobals(media map[string]any) Globals {
	if media == nil {
		media = make(map[string]any)
	}
	return Globals{
		Media:    media,
		MetaData: make(map[string]any),
	}
}

// AsMap exposes globals to json path lookups and scripts.
func (g Globals) AsMap() map[string]any {
	return map[string]any{
		"Media":    g.Media,
		"MetaData": g.MetaData,
	}
}

type OperationExecution struct {
	Name         string          `json:"name"`
	Status       OperationStatus `json:"status"`
	ResultRef    string          `json:"resultRef,omitempty"`
	MonitorCount int             `json:"monitorCount"`
	MetaData     map[string]any  `json:"metaData,omitempty"`
	Media        map[string]any  `json:"media,omitempty"`
	Message      string          `json:"message,omitempty"`
	StartedAt    time.Time       `json:"startedAt,omitempty"`
	CompletedAt  time.Time       `json:"completedAt,omitempty"`
}

type StageExecution struct {
	Name        string                         `json:"name"`
	Status      StageStatus                    `json:"status"`
	Operations  map[string]*OperationExecution `json:"operations,omitempty"`
	Message     string                         `json:"message,omitempty"`
	StartedAt   time.Time                      `json:"startedAt,omitempty"`
	CompletedAt time.Time                      `json:"completedAt,omitempty"`
}

// AllOperationsTerminal reports whether every operation of the stage reached Complete, Error or Skipped.
func (s *StageExecution) AllOperationsTerminal() bool {
	if len(s.Operations) == 0 {
		return true
	}
	for _, op := range s.Operations {
		if !op.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// OperationConfiguration holds per execution overrides keyed by stage, then operation.
type OperationConfiguration map[string]map[string]map[string]any

type WorkflowExecution struct {
	Id            string                     `json:"id"`
	AssetId       string                     `json:"assetId"`
	Workflow      string                     `json:"workflow"`
	Status        ExecutionStatus            `json:"status"`
	CurrentStage  string                     `json:"currentStage"`
	Stages        map[string]*StageExecution `json:"stages"`
	Globals       Globals                    `json:"globals"`
	Configuration OperationConfiguration     `json:"configuration,omitempty"`
	Message       string                     `json:"message,omitempty"`
	Trigger       string                     `json:"trigger,omitempty"`
	Version       int64                      `json:"version"`
	CreatedAt     time.Time                  `json:"createdAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate it without touching the stored record.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	data, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	var c WorkflowExecution
	if err := json.Unmarshal(data, &c); err != nil {
		panic(err)
	}
	return &c
}

func (e *WorkflowExecution) CurrentStageExecution() *StageExecution {
	if e.Stages == nil {
		return nil
	}
	return e.Stages[e.CurrentStage]
}

type HistoryRecord struct {
	EntityId  string          `json:"entityId"`
	Version   int64           `json:"version"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewHistoryRecord(entityId string, version int64, entity any) (*HistoryRecord, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	return &HistoryRecord{
		EntityId:  entityId,
		Version:   version,
		Snapshot:  data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ReplayExecution rebuilds an execution from its history; the last record wins.
func ReplayExecution(records []*HistoryRecord) (*WorkflowExecution, error) {
	var exec *WorkflowExecution
	for _, r := range records {
		var e WorkflowExecution
		if err := json.Unmarshal(r.Snapshot, &e); err != nil {
			return nil, err
		}
		exec = &e
	}
	return exec, nil
}

type ExecutionRequest struct {
	Name          string                 `json:"name"`
	AssetId       string                 `json:"assetId,omitempty"`
	Input         ExecutionInput         `json:"input"`
	Configuration OperationConfiguration `json:"configuration,omitempty"`
	Trigger       string                 `json:"trigger,omitempty"`
}

type ExecutionInput struct {
	Media    map[string]any `json:"media"`
	MetaData map[string]any `json:"metaData,omitempty"`
}
