package model

import "time"

type StageMessageKind string

// RUN dispatches a stage, CHECK polls one waiting async operation.
const STAGE_MESSAGE_RUN StageMessageKind = "RUN"
const STAGE_MESSAGE_CHECK StageMessageKind = "CHECK"

type StageMessage struct {
	MessageId   string           `json:"messageId"`
	ExecutionId string           `json:"executionId"`
	Stage       string           `json:"stageName"`
	Attempt     int              `json:"attempt"`
	Kind        StageMessageKind `json:"kind"`
	Operation   string           `json:"operation,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	EnqueuedAt  time.Time        `json:"enqueuedAt"`
}

// Delivery is a message handed to a consumer together with the raw payload needed to ack it.
type Delivery struct {
	Message   *StageMessage
	Partition int
	Payload   string
	Deadline  time.Time
}

type ChangeEvent struct {
	ExecutionId string          `json:"executionId"`
	AssetId     string          `json:"assetId"`
	Workflow    string          `json:"workflow"`
	OldStatus   ExecutionStatus `json:"oldStatus"`
	NewStatus   ExecutionStatus `json:"newStatus"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
}
