package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/mohitkumar/mediaflow/service"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type recordingAdmission struct {
	failed map[string]string
}

func (a *recordingAdmission) HandleFailure(ctx context.Context, executionId string, reason string) error {
	a.failed[executionId] = reason
	return nil
}

func (a *recordingAdmission) Trigger() {}

func setupTest(t *testing.T) (*Client, *recordingAdmission) {
	ctx := context.Background()
	defs := memory.NewDefinitionStore(10)
	require.NoError(t, defs.SaveOperation(ctx, &model.Operation{Name: "probe", StartHandler: "noop"}))
	require.NoError(t, defs.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, defs.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))
	admission := &recordingAdmission{failed: make(map[string]string)}
	svc := service.NewWorkflowExecutionService(defs, memory.NewExecutionStore(nil), memory.NewAssetStore(),
		memory.NewStageQueue(nil), admission)

	gsrv, err := NewGrpcServer(svc)
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	go gsrv.Serve(lis)
	t.Cleanup(gsrv.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), admission
}

func TestGrpcExecutionService(t *testing.T) {
	ctx := context.Background()
	client, admission := setupTest(t)

	exec, err := client.CreateExecution(ctx, &model.ExecutionRequest{
		Name:    "publish",
		AssetId: "asset-1",
		Input:   model.ExecutionInput{Media: map[string]any{"video": "s3://in.mp4"}},
	})
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, exec.Status)
	require.Equal(t, "ingest", exec.CurrentStage)

	got, err := client.GetExecution(ctx, exec.Id)
	require.NoError(t, err)
	require.Equal(t, exec.Id, got.Id)
	require.Equal(t, "asset-1", got.AssetId)

	require.NoError(t, client.ReportFailure(ctx, exec.Id, "timeout"))
	require.Equal(t, "timeout", admission.failed[exec.Id])

	conf, err := client.SetSystemConfig(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 4, conf.MaxConcurrentWorkflows)
}

func TestGrpcErrors(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTest(t)

	_, err := client.GetExecution(ctx, "missing")
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
	require.Len(t, st.Details(), 1)
	_, ok = st.Details()[0].(*errdetails.LocalizedMessage)
	require.True(t, ok)

	_, err = client.CreateExecution(ctx, &model.ExecutionRequest{Name: "missing"})
	require.Equal(t, codes.NotFound, status.Code(err))

	require.Equal(t, codes.InvalidArgument, status.Code(client.ReportFailure(ctx, "missing", "")))
	require.Equal(t, codes.NotFound, status.Code(client.ReportFailure(ctx, "missing", "timeout")))

	_, err = client.SetSystemConfig(ctx, 0)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
