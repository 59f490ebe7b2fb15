package operation

import (
	"context"

	"github.com/mohitkumar/mediaflow/model"
)

type ResultStatus string

const RESULT_STATUS_DONE ResultStatus = "Done"
const RESULT_STATUS_FAILED ResultStatus = "Failed"
const RESULT_STATUS_PENDING ResultStatus = "Pending"

// Request is what a handler receives when an operation is started or monitored.
type Request struct {
	ExecutionId   string         `json:"executionId"`
	AssetId       string         `json:"assetId"`
	Stage         string         `json:"stage"`
	Operation     string         `json:"operation"`
	Configuration map[string]any `json:"configuration"`
	Input         model.Globals  `json:"input"`
	ResultRef     string         `json:"resultRef,omitempty"`
}

type Result struct {
	Status    ResultStatus   `json:"status"`
	ResultRef string         `json:"resultRef,omitempty"`
	MetaData  map[string]any `json:"metaData,omitempty"`
	Media     map[string]any `json:"media,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func Done(metaData map[string]any) *Result {
	return &Result{Status: RESULT_STATUS_DONE, MetaData: metaData}
}

func Failed(message string) *Result {
	return &Result{Status: RESULT_STATUS_FAILED, Message: message}
}

func Pending(resultRef string) *Result {
	return &Result{Status: RESULT_STATUS_PENDING, ResultRef: resultRef}
}

// Handler is the uniform contract of an external media operation. Start begins the work;
// async operations return Pending with a ResultRef that is later passed to Monitor.
type Handler interface {
	Start(ctx context.Context, req *Request) (*Result, error)
	Monitor(ctx context.Context, req *Request, resultRef string) (*Result, error)
}

// StartFunc adapts a function to a synchronous Handler.
type StartFunc func(ctx context.Context, req *Request) (*Result, error)

func (f StartFunc) Start(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

func (f StartFunc) Monitor(ctx context.Context, req *Request, resultRef string) (*Result, error) {
	return Failed("operation does not support monitoring"), nil
}
