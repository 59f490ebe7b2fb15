package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/mohitkumar/mediaflow/scheduler"
	"github.com/mohitkumar/mediaflow/service"
	"github.com/stretchr/testify/require"
)

type asyncHandler struct {
	starts   int32
	monitors int32
	// monitor calls answered with Pending before Done
	pending int32
}

func (h *asyncHandler) Start(ctx context.Context, req *operation.Request) (*operation.Result, error) {
	atomic.AddInt32(&h.starts, 1)
	return operation.Pending("job-" + req.ExecutionId), nil
}

func (h *asyncHandler) Monitor(ctx context.Context, req *operation.Request, resultRef string) (*operation.Result, error) {
	n := atomic.AddInt32(&h.monitors, 1)
	if n <= h.pending {
		return operation.Pending(resultRef), nil
	}
	return &operation.Result{
		Status:   operation.RESULT_STATUS_DONE,
		MetaData: map[string]any{"rendition": "720p", "job": resultRef},
		Media:    map[string]any{"Proxy": "s3://bucket/proxy.mp4"},
	}, nil
}

type harness struct {
	defs     persistence.DefinitionStore
	execs    persistence.ExecutionStore
	assets   persistence.AssetStore
	queue    persistence.StageQueue
	sched    *scheduler.Scheduler
	engine   *Engine
	svc      *service.WorkflowExecutionService
	async    *asyncHandler
	thumbs   int32
	conf     config.EngineConfig
	ctx      context.Context
	wg       *sync.WaitGroup
	registry *operation.Registry
}

func testEngineConfig() config.EngineConfig {
	conf := config.DefaultEngineConfig()
	conf.MonitorInitialInterval = time.Millisecond
	conf.MonitorMaxInterval = 5 * time.Millisecond
	conf.LockRetryInterval = time.Millisecond
	conf.OperationTimeout = time.Minute
	return conf
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		defs:   memory.NewDefinitionStore(10),
		execs:  memory.NewExecutionStore(nil),
		assets: memory.NewAssetStore(),
		queue:  memory.NewStageQueue(nil),
		async:  &asyncHandler{pending: 2},
		conf:   testEngineConfig(),
		ctx:    context.Background(),
		wg:     &sync.WaitGroup{},
	}
	h.registry = operation.NewRegistry(nil)
	h.registry.Register("test/probe", operation.StartFunc(func(ctx context.Context, req *operation.Request) (*operation.Result, error) {
		return operation.Done(map[string]any{"duration": "10s"}), nil
	}))
	h.registry.Register("test/thumbnail", operation.StartFunc(func(ctx context.Context, req *operation.Request) (*operation.Result, error) {
		atomic.AddInt32(&h.thumbs, 1)
		return operation.Done(map[string]any{"thumbnail": "thumb.jpg"}), nil
	}))
	h.registry.Register("test/failing", operation.StartFunc(func(ctx context.Context, req *operation.Request) (*operation.Result, error) {
		return operation.Failed("bad input"), nil
	}))
	h.registry.Register("test/transcode", h.async)

	ops := []*model.Operation{
		{Name: "probe", StartHandler: "test/probe", MediaType: "Video"},
		{Name: "probe-copy", StartHandler: "test/probe"},
		{Name: "thumbnail", StartHandler: "test/thumbnail", Configuration: map[string]any{model.CONFIG_ENABLED: false}},
		{Name: "normalize-audio", StartHandler: "test/thumbnail", MediaType: "Audio"},
		{Name: "transcode", StartHandler: "test/transcode", MonitorHandler: "test/transcode", IsAsync: true},
		{Name: "failing", StartHandler: "test/failing"},
		{Name: "optional-failing", StartHandler: "test/failing", Optional: true},
	}
	for _, op := range ops {
		require.NoError(t, h.defs.SaveOperation(h.ctx, op))
	}
	stages := []*model.Stage{
		{Name: "ingest", Operations: []string{"probe", "thumbnail", "normalize-audio"}},
		{Name: "encode", Operations: []string{"transcode"}},
		{Name: "broken", Operations: []string{"failing", "probe"}},
		{Name: "tolerant", Operations: []string{"optional-failing", "probe"}},
		{Name: "conflicting", Operations: []string{"probe", "probe-copy"}},
	}
	for _, s := range stages {
		require.NoError(t, h.defs.SaveStage(h.ctx, s))
	}
	workflows := []*model.Workflow{
		{Name: "publish", Stages: []string{"ingest", "encode"}},
		{Name: "broken", Stages: []string{"broken", "encode"}},
		{Name: "tolerant", Stages: []string{"tolerant"}},
		{Name: "conflicting", Stages: []string{"conflicting"}},
	}
	for _, wf := range workflows {
		require.NoError(t, h.defs.SaveWorkflow(h.ctx, wf))
	}

	h.sched = scheduler.NewScheduler(h.defs, h.execs, h.queue, config.DefaultSchedulerConfig(), h.wg)
	h.engine = NewEngine(h.defs, h.execs, h.assets, h.queue, h.registry, h.sched, h.conf)
	h.svc = service.NewWorkflowExecutionService(h.defs, h.execs, h.assets, h.queue, h.sched)
	return h
}

func (h *harness) start(t *testing.T, workflow string) *model.WorkflowExecution {
	exec, err := h.svc.CreateExecution(h.ctx, &model.ExecutionRequest{
		Name:  workflow,
		Input: model.ExecutionInput{Media: map[string]any{"Video": "s3://bucket/source.mov"}},
	})
	require.NoError(t, err)
	admitted, err := h.sched.RunCycle(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
	return exec
}

// drain delivers stage messages until the execution is terminal.
func (h *harness) drain(t *testing.T, id string) *model.WorkflowExecution {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		deliveries, err := h.queue.Poll(h.ctx, 0, 10, time.Minute)
		require.NoError(t, err)
		for _, d := range deliveries {
			require.NoError(t, h.engine.Handle(h.ctx, d.Message))
			require.NoError(t, h.queue.Ack(h.ctx, d))
		}
		exec, err := h.execs.Get(h.ctx, id)
		require.NoError(t, err)
		if exec.Status.IsTerminal() {
			return exec
		}
		if len(deliveries) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatalf("execution %s did not finish", id)
	return nil
}

func TestEngine(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, h *harness){
		"async operation is monitored until done":      testAsyncOperationCompletes,
		"disabled operation is skipped without writes": testSkippedOperation,
		"required operation failure fails execution":   testRequiredOperationFails,
		"optional operation failure is tolerated":      testOptionalOperationFails,
		"duplicate output keys fail the stage":         testConflictingOutputs,
		"expired delivery is dead lettered":            testDeliveryExhausted,
		"stale messages are dropped":                   testStaleMessages,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newHarness(t))
		})
	}
}

func testAsyncOperationCompletes(t *testing.T, h *harness) {
	exec := h.start(t, "publish")
	done := h.drain(t, exec.Id)

	require.Equal(t, model.EXECUTION_STATUS_COMPLETE, done.Status)
	require.Equal(t, model.END_STAGE, done.CurrentStage)
	require.Equal(t, int32(1), atomic.LoadInt32(&h.async.starts))
	require.Equal(t, int32(3), atomic.LoadInt32(&h.async.monitors))

	oe := done.Stages["encode"].Operations["transcode"]
	require.Equal(t, model.OPERATION_STATUS_COMPLETE, oe.Status)
	require.Equal(t, 2, oe.MonitorCount)
	require.Equal(t, "job-"+exec.Id, oe.ResultRef)

	require.Equal(t, "10s", done.Globals.MetaData["duration"])
	require.Equal(t, "720p", done.Globals.MetaData["rendition"])
	require.Equal(t, "s3://bucket/proxy.mp4", done.Globals.Media["Proxy"])
	require.Equal(t, "s3://bucket/source.mov", done.Globals.Media["Video"])

	asset, err := h.assets.Get(h.ctx, exec.AssetId)
	require.NoError(t, err)
	require.False(t, asset.Locked)
	require.Contains(t, asset.Fields, "probe")
	require.Contains(t, asset.Fields, "transcode")

	records, err := h.execs.History(h.ctx, exec.Id)
	require.NoError(t, err)
	require.Len(t, records, int(done.Version)+1)
	replayed, err := model.ReplayExecution(records)
	require.NoError(t, err)
	require.Equal(t, done.Status, replayed.Status)
	require.Equal(t, done.Version, replayed.Version)

	statuses := make([]model.ExecutionStatus, 0)
	for _, r := range records {
		e, err := model.ReplayExecution([]*model.HistoryRecord{r})
		require.NoError(t, err)
		if len(statuses) == 0 || statuses[len(statuses)-1] != e.Status {
			statuses = append(statuses, e.Status)
		}
	}
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, statuses[0])
	require.Contains(t, statuses, model.EXECUTION_STATUS_WAITING)
	require.Equal(t, model.EXECUTION_STATUS_COMPLETE, statuses[len(statuses)-1])
}

func testSkippedOperation(t *testing.T, h *harness) {
	exec := h.start(t, "publish")
	done := h.drain(t, exec.Id)

	ingest := done.Stages["ingest"]
	require.Equal(t, model.STAGE_STATUS_COMPLETE, ingest.Status)
	require.Equal(t, model.OPERATION_STATUS_SKIPPED, ingest.Operations["thumbnail"].Status)
	require.Equal(t, model.OPERATION_STATUS_SKIPPED, ingest.Operations["normalize-audio"].Status)
	require.Equal(t, int32(0), atomic.LoadInt32(&h.thumbs))

	asset, err := h.assets.Get(h.ctx, exec.AssetId)
	require.NoError(t, err)
	require.NotContains(t, asset.Fields, "thumbnail")
	require.NotContains(t, asset.Fields, "normalize-audio")
	require.NotContains(t, done.Globals.MetaData, "thumbnail")
}

func testRequiredOperationFails(t *testing.T, h *harness) {
	exec := h.start(t, "broken")
	done := h.drain(t, exec.Id)

	require.Equal(t, model.EXECUTION_STATUS_ERROR, done.Status)
	require.Equal(t, model.END_STAGE, done.CurrentStage)
	require.Equal(t, "Stage failed because operation failing execution failed", done.Message)
	require.Equal(t, model.STAGE_STATUS_ERROR, done.Stages["broken"].Status)
	require.Equal(t, model.STAGE_STATUS_NOT_STARTED, done.Stages["encode"].Status)
	require.Equal(t, int32(0), atomic.LoadInt32(&h.async.starts))

	// the scheduler has a free slot again
	active, err := h.execs.CountByStatus(h.ctx, model.ActiveStatuses...)
	require.NoError(t, err)
	require.Equal(t, 0, active)
}

func testOptionalOperationFails(t *testing.T, h *harness) {
	exec := h.start(t, "tolerant")
	done := h.drain(t, exec.Id)

	require.Equal(t, model.EXECUTION_STATUS_COMPLETE, done.Status)
	se := done.Stages["tolerant"]
	require.Equal(t, model.OPERATION_STATUS_ERROR, se.Operations["optional-failing"].Status)
	require.Contains(t, se.Operations["optional-failing"].Message, "bad input")
	require.Equal(t, "10s", done.Globals.MetaData["duration"])
}

func testConflictingOutputs(t *testing.T, h *harness) {
	exec := h.start(t, "conflicting")
	done := h.drain(t, exec.Id)

	require.Equal(t, model.EXECUTION_STATUS_ERROR, done.Status)
	require.Equal(t, "Stage failed because operations probe and probe-copy both wrote MetaData.duration", done.Message)
	require.NotContains(t, done.Globals.MetaData, "duration")
}

func testDeliveryExhausted(t *testing.T, h *harness) {
	exec := h.start(t, "publish")
	later := time.Now().Add(time.Hour)

	for attempt := 0; attempt < h.conf.MaxDeliveries; attempt++ {
		deliveries, err := h.queue.Poll(h.ctx, 0, 10, time.Millisecond)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		require.Equal(t, attempt, deliveries[0].Message.Attempt)

		expired, err := h.queue.Expired(h.ctx, 0, later)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.NoError(t, h.engine.HandleExpired(h.ctx, expired[0]))
	}

	failed, err := h.execs.Get(h.ctx, exec.Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_ERROR, failed.Status)
	require.Contains(t, failed.Message, "QueueDeliveryExhausted")

	dead, err := h.queue.ListDeadLetters(h.ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, exec.Id, dead[0].ExecutionId)
	require.Equal(t, ErrDeliveryExhausted.Error(), dead[0].Reason)

	deliveries, err := h.queue.Poll(h.ctx, 0, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, deliveries)

	records, err := h.execs.History(h.ctx, exec.Id)
	require.NoError(t, err)
	errorTransitions := 0
	var prev model.ExecutionStatus
	for _, r := range records {
		e, err := model.ReplayExecution([]*model.HistoryRecord{r})
		require.NoError(t, err)
		if e.Status == model.EXECUTION_STATUS_ERROR && prev != model.EXECUTION_STATUS_ERROR {
			errorTransitions++
		}
		prev = e.Status
	}
	require.Equal(t, 1, errorTransitions)
}

func testStaleMessages(t *testing.T, h *harness) {
	exec := h.start(t, "tolerant")
	done := h.drain(t, exec.Id)

	// redelivered RUN and CHECK for a finished execution change nothing
	require.NoError(t, h.engine.Handle(h.ctx, &model.StageMessage{ExecutionId: exec.Id, Stage: "tolerant", Kind: model.STAGE_MESSAGE_RUN}))
	require.NoError(t, h.engine.Handle(h.ctx, &model.StageMessage{ExecutionId: exec.Id, Stage: "tolerant",
		Kind: model.STAGE_MESSAGE_CHECK, Operation: "probe"}))
	require.NoError(t, h.engine.Handle(h.ctx, &model.StageMessage{ExecutionId: "missing", Stage: "tolerant", Kind: model.STAGE_MESSAGE_RUN}))

	after, err := h.execs.Get(h.ctx, exec.Id)
	require.NoError(t, err)
	require.Equal(t, done.Version, after.Version)
}

func TestMonitorDelay(t *testing.T) {
	e := &Engine{conf: config.EngineConfig{MonitorInitialInterval: time.Second, MonitorMaxInterval: 5 * time.Second}}
	require.Equal(t, time.Second, e.monitorDelay(0))
	require.Equal(t, 1500*time.Millisecond, e.monitorDelay(1))
	require.Equal(t, 5*time.Second, e.monitorDelay(10))
}

func TestIsSkipped(t *testing.T) {
	globals := model.NewGlobals(map[string]any{"Video": "v.mov"})
	for name, tc := range map[string]struct {
		op      *model.Operation
		cfg     map[string]any
		skipped bool
	}{
		"enabled by default":  {op: &model.Operation{}, skipped: false},
		"disabled flag":       {op: &model.Operation{}, cfg: map[string]any{"Enabled": false}, skipped: true},
		"disabled string":     {op: &model.Operation{}, cfg: map[string]any{"Enabled": "false"}, skipped: true},
		"enabled string":      {op: &model.Operation{}, cfg: map[string]any{"Enabled": "true"}, skipped: false},
		"media present":       {op: &model.Operation{MediaType: "Video"}, skipped: false},
		"media absent":        {op: &model.Operation{MediaType: "Audio"}, skipped: true},
		"metadata only":       {op: &model.Operation{MediaType: model.MEDIA_TYPE_METADATA_ONLY}, skipped: false},
		"media type override": {op: &model.Operation{MediaType: "Video"}, cfg: map[string]any{"MediaType": "Audio"}, skipped: true},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.skipped, isSkipped(tc.op, tc.cfg, globals))
		})
	}
}

func TestCallTimeout(t *testing.T) {
	for scenario, tc := range map[string]struct {
		visibility time.Duration
		operation  time.Duration
		op         *model.Operation
		want       time.Duration
	}{
		"operation timeout within visibility": {visibility: 15 * time.Minute, operation: time.Minute, op: &model.Operation{}, want: time.Minute},
		"capped by visibility":                {visibility: 15 * time.Minute, operation: 2 * time.Hour, op: &model.Operation{}, want: 12 * time.Minute},
		"per operation timeout capped":        {visibility: 10 * time.Second, operation: time.Minute, op: &model.Operation{TimeoutSeconds: 60}, want: 8 * time.Second},
		"per operation timeout kept":          {visibility: 10 * time.Minute, operation: time.Hour, op: &model.Operation{TimeoutSeconds: 30}, want: 30 * time.Second},
	} {
		t.Run(scenario, func(t *testing.T) {
			conf := testEngineConfig()
			conf.VisibilityTimeout = tc.visibility
			conf.OperationTimeout = tc.operation
			e := &Engine{conf: conf}
			require.Equal(t, tc.want, e.callTimeout(tc.op))
		})
	}
}
