package rpc

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/service"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

type grpcServer struct {
	executions *service.WorkflowExecutionService
}

var _ ExecutionServer = (*grpcServer)(nil)

func NewGrpcServer(executions *service.WorkflowExecutionService) (*grpc.Server, error) {
	log := logger.Named("grpc")
	zapOpts := []grpc_zap.Option{
		grpc_zap.WithDurationField(
			func(duration time.Duration) zapcore.Field {
				return zap.Int64(
					"grpc.time_ns",
					duration.Nanoseconds(),
				)
			},
		),
	}
	if err := view.Register(ocgrpc.DefaultServerViews...); err != nil {
		return nil, err
	}
	grpcOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(log, zapOpts...),
			grpc_recovery.UnaryServerInterceptor(),
		)),
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
	}
	gsrv := grpc.NewServer(grpcOpts...)
	RegisterExecutionServer(gsrv, &grpcServer{executions: executions})
	return gsrv, nil
}

func (srv *grpcServer) CreateExecution(ctx context.Context, req *model.ExecutionRequest) (*model.WorkflowExecution, error) {
	exec, err := srv.executions.CreateExecution(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return exec, nil
}

func (srv *grpcServer) GetExecution(ctx context.Context, req *GetExecutionRequest) (*model.WorkflowExecution, error) {
	exec, err := srv.executions.Get(ctx, req.Id)
	if err != nil {
		return nil, toStatus(err)
	}
	return exec, nil
}

func (srv *grpcServer) ReportFailure(ctx context.Context, req *ReportFailureRequest) (*StatusResponse, error) {
	if req.Reason == "" {
		return &StatusResponse{Status: false}, localized(codes.InvalidArgument, "reason is required").Err()
	}
	if err := srv.executions.ReportFailure(ctx, req.Id, req.Reason); err != nil {
		return &StatusResponse{Status: false}, toStatus(err)
	}
	return &StatusResponse{Status: true}, nil
}

func (srv *grpcServer) SetSystemConfig(ctx context.Context, req *model.SystemConfig) (*model.SystemConfig, error) {
	if err := srv.executions.SetMaxConcurrentWorkflows(ctx, req.MaxConcurrentWorkflows); err != nil {
		return nil, toStatus(err)
	}
	return srv.executions.GetSystemConfig(ctx)
}
