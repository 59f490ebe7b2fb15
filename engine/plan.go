package engine

import (
	"context"
	"strconv"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/util"
)

type plannedOperation struct {
	def     *model.Operation
	config  map[string]any
	skipped bool
}

type stagePlan struct {
	workflow   *model.Workflow
	stage      *model.Stage
	operations map[string]*plannedOperation
}

// loadPlan resolves the definitions of a stage and the effective configuration of each of its operations.
func (e *Engine) loadPlan(ctx context.Context, exec *model.WorkflowExecution, stageName string) (*stagePlan, error) {
	wf, err := e.definitions.GetWorkflow(ctx, exec.Workflow)
	if err != nil {
		return nil, err
	}
	stage, err := e.definitions.GetStage(ctx, stageName)
	if err != nil {
		return nil, err
	}
	plan := &stagePlan{
		workflow:   wf,
		stage:      stage,
		operations: make(map[string]*plannedOperation, len(stage.Operations)),
	}
	for _, name := range stage.Operations {
		op, err := e.definitions.GetOperation(ctx, name)
		if err != nil {
			return nil, err
		}
		plan.operations[name] = e.planOperation(exec, stageName, op)
	}
	return plan, nil
}

func (p *stagePlan) isOptional(name string) bool {
	op, ok := p.operations[name]
	return ok && op.def.Optional
}

func (e *Engine) planOperation(exec *model.WorkflowExecution, stageName string, op *model.Operation) *plannedOperation {
	cfg := effectiveConfiguration(exec, stageName, op)
	return &plannedOperation{
		def:     op,
		config:  cfg,
		skipped: isSkipped(op, cfg, exec.Globals),
	}
}

// effectiveConfiguration layers the execution's override on the definition and resolves
// {$.path} tokens against the execution globals.
func effectiveConfiguration(exec *model.WorkflowExecution, stageName string, op *model.Operation) map[string]any {
	cfg := make(map[string]any, len(op.Configuration))
	for k, v := range op.Configuration {
		cfg[k] = v
	}
	for k, v := range exec.Configuration[stageName][op.Name] {
		cfg[k] = v
	}
	return util.ResolveParams(exec.Globals.AsMap(), cfg)
}

func isSkipped(op *model.Operation, cfg map[string]any, globals model.Globals) bool {
	if enabled, ok := cfg[model.CONFIG_ENABLED]; ok && !truthy(enabled) {
		return true
	}
	mediaType := op.MediaType
	if mt, ok := cfg[model.CONFIG_MEDIA_TYPE].(string); ok && mt != "" {
		mediaType = mt
	}
	if mediaType == "" || mediaType == model.MEDIA_TYPE_METADATA_ONLY {
		return false
	}
	_, ok := globals.Media[mediaType]
	return !ok
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		return err != nil || b
	case nil:
		return false
	default:
		return true
	}
}

func (p *plannedOperation) request(exec *model.WorkflowExecution, stageName string) *operation.Request {
	return &operation.Request{
		ExecutionId:   exec.Id,
		AssetId:       exec.AssetId,
		Stage:         stageName,
		Operation:     p.def.Name,
		Configuration: p.config,
		Input:         exec.Globals,
	}
}
