package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.uber.org/zap"
)

var (
	KeyWorkflow, _  = tag.NewKey("workflow")
	KeyOperation, _ = tag.NewKey("operation")
	KeyStatus, _    = tag.NewKey("status")
)

var (
	OperationCount    = stats.Int64("mediaflow/operations", "Operations that reached a terminal status", stats.UnitDimensionless)
	OperationLatency  = stats.Float64("mediaflow/operation_latency", "Time from operation start to terminal status", stats.UnitMilliseconds)
	AdmittedCount     = stats.Int64("mediaflow/admitted", "Executions admitted by the scheduler", stats.UnitDimensionless)
	ExecutionCount    = stats.Int64("mediaflow/executions_finished", "Executions that reached a terminal status", stats.UnitDimensionless)
	DeadLetterCount   = stats.Int64("mediaflow/dead_letters", "Stage messages routed to the dead letter queue", stats.UnitDimensionless)
	CommitConflictCnt = stats.Int64("mediaflow/commit_conflicts", "Version conflicts seen while committing executions", stats.UnitDimensionless)
)

var Views = []*view.View{
	{
		Name:        "mediaflow/operations",
		Measure:     OperationCount,
		Description: "Count of finished operations by workflow, operation and status",
		TagKeys:     []tag.Key{KeyWorkflow, KeyOperation, KeyStatus},
		Aggregation: view.Count(),
	},
	{
		Name:        "mediaflow/operation_latency",
		Measure:     OperationLatency,
		Description: "Distribution of operation latency",
		TagKeys:     []tag.Key{KeyOperation},
		Aggregation: view.Distribution(10, 100, 1000, 10000, 60000, 600000, 3600000),
	},
	{
		Name:        "mediaflow/admitted",
		Measure:     AdmittedCount,
		Description: "Count of admitted executions",
		TagKeys:     []tag.Key{KeyWorkflow},
		Aggregation: view.Count(),
	},
	{
		Name:        "mediaflow/executions_finished",
		Measure:     ExecutionCount,
		Description: "Count of finished executions by workflow and status",
		TagKeys:     []tag.Key{KeyWorkflow, KeyStatus},
		Aggregation: view.Count(),
	},
	{
		Name:        "mediaflow/dead_letters",
		Measure:     DeadLetterCount,
		Description: "Count of dead lettered stage messages",
		Aggregation: view.Count(),
	},
	{
		Name:        "mediaflow/commit_conflicts",
		Measure:     CommitConflictCnt,
		Description: "Count of execution version conflicts",
		Aggregation: view.Count(),
	},
}

func Register() error {
	return view.Register(Views...)
}

func Unregister() {
	view.Unregister(Views...)
}

func record(ctx context.Context, mutators []tag.Mutator, ms ...stats.Measurement) {
	if err := stats.RecordWithTags(ctx, mutators, ms...); err != nil {
		logger.Warn("error recording metric", zap.Error(err))
	}
}

func RecordOperation(ctx context.Context, workflow string, operation string, status string, latency time.Duration) {
	record(ctx, []tag.Mutator{
		tag.Upsert(KeyWorkflow, workflow),
		tag.Upsert(KeyOperation, operation),
		tag.Upsert(KeyStatus, status),
	}, OperationCount.M(1), OperationLatency.M(float64(latency)/float64(time.Millisecond)))
}

func RecordAdmitted(ctx context.Context, workflow string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyWorkflow, workflow)}, AdmittedCount.M(1))
}

func RecordExecutionFinished(ctx context.Context, workflow string, status string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyWorkflow, workflow), tag.Upsert(KeyStatus, status)}, ExecutionCount.M(1))
}

func RecordDeadLetter(ctx context.Context) {
	stats.Record(ctx, DeadLetterCount.M(1))
}

func RecordCommitConflict(ctx context.Context) {
	stats.Record(ctx, CommitConflictCnt.M(1))
}

// Row is a json friendly view row.
type Row struct {
	Tags  map[string]string `json:"tags,omitempty"`
	Count int64             `json:"count"`
	Mean  float64           `json:"mean,omitempty"`
	Max   float64           `json:"max,omitempty"`
}

// Snapshot returns the current data of every registered view keyed by view name.
func Snapshot() map[string][]Row {
	res := make(map[string][]Row, len(Views))
	for _, v := range Views {
		rows, err := view.RetrieveData(v.Name)
		if err != nil {
			continue
		}
		out := make([]Row, 0, len(rows))
		for _, r := range rows {
			row := Row{Tags: make(map[string]string, len(r.Tags))}
			for _, t := range r.Tags {
				row.Tags[t.Key.Name()] = t.Value
			}
			switch d := r.Data.(type) {
			case *view.CountData:
				row.Count = d.Value
			case *view.DistributionData:
				row.Count = d.Count
				row.Mean = d.Mean
				row.Max = d.Max
			}
			out = append(out, row)
		}
		sort.Slice(out, func(i, j int) bool { return tagString(out[i].Tags) < tagString(out[j].Tags) })
		res[v.Name] = out
	}
	return res
}

func tagString(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + tags[k] + ","
	}
	return s
}
