package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/model"
)

type aggregation struct {
	stage string
}

func (a *aggregation) recordFinished(ctx context.Context, exec *model.WorkflowExecution) {
	metrics.RecordExecutionFinished(ctx, exec.Workflow, string(exec.Status))
}

// aggregate combines the results of a stage whose operations are all terminal. It merges
// outputs into the globals and either fails the execution or advances it to the next stage.
func aggregate(exec *model.WorkflowExecution, plan *stagePlan, se *model.StageExecution, now time.Time) *aggregation {
	agg := &aggregation{stage: se.Name}
	se.CompletedAt = now

	names := make([]string, 0, len(se.Operations))
	for name := range se.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if se.Operations[name].Status == model.OPERATION_STATUS_ERROR && !plan.isOptional(name) {
			failStage(exec, se, stageFailedMessage(name))
			return agg
		}
	}

	metaData := make(map[string]any)
	media := make(map[string]any)
	writers := make(map[string]string)
	for _, name := range names {
		oe := se.Operations[name]
		if oe.Status != model.OPERATION_STATUS_COMPLETE {
			continue
		}
		if key, ok := mergeOutputs(metaData, oe.MetaData, writers, "MetaData.", name); !ok {
			failStage(exec, se, fmt.Sprintf("Stage failed because operations %s and %s both wrote %s", writers[key], name, key))
			return agg
		}
		if key, ok := mergeOutputs(media, oe.Media, writers, "Media.", name); !ok {
			failStage(exec, se, fmt.Sprintf("Stage failed because operations %s and %s both wrote %s", writers[key], name, key))
			return agg
		}
	}
	if exec.Globals.MetaData == nil {
		exec.Globals.MetaData = make(map[string]any)
	}
	if exec.Globals.Media == nil {
		exec.Globals.Media = make(map[string]any)
	}
	for k, v := range metaData {
		exec.Globals.MetaData[k] = v
	}
	for k, v := range media {
		exec.Globals.Media[k] = v
	}

	se.Status = model.STAGE_STATUS_COMPLETE
	next := plan.workflow.NextStage(se.Name)
	exec.CurrentStage = next
	if next == model.END_STAGE {
		exec.Status = model.EXECUTION_STATUS_COMPLETE
		return agg
	}
	exec.Status = model.EXECUTION_STATUS_STARTED
	stageExecution(exec, next)
	return agg
}

// mergeOutputs copies src into dst and reports the first key already written by another operation.
func mergeOutputs(dst map[string]any, src map[string]any, writers map[string]string, prefix string, operation string) (string, bool) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := prefix + k
		if _, ok := writers[key]; ok {
			return key, false
		}
		writers[key] = operation
		dst[k] = src[k]
	}
	return "", true
}

func failStage(exec *model.WorkflowExecution, se *model.StageExecution, message string) {
	se.Status = model.STAGE_STATUS_ERROR
	se.Message = message
	exec.Status = model.EXECUTION_STATUS_ERROR
	exec.CurrentStage = model.END_STAGE
	exec.Message = message
}
