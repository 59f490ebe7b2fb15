package rpc

import (
	"context"

	"github.com/mohitkumar/mediaflow/model"
	"google.golang.org/grpc"
)

const SERVICE_NAME = "mediaflow.v1.ExecutionService"

type GetExecutionRequest struct {
	Id string `json:"id"`
}

type ReportFailureRequest struct {
	Id     string `json:"id"`
	Reason string `json:"reason"`
}

type StatusResponse struct {
	Status bool `json:"status"`
}

// ExecutionServer is the grpc surface of the workflow execution service.
type ExecutionServer interface {
	CreateExecution(ctx context.Context, req *model.ExecutionRequest) (*model.WorkflowExecution, error)
	GetExecution(ctx context.Context, req *GetExecutionRequest) (*model.WorkflowExecution, error)
	ReportFailure(ctx context.Context, req *ReportFailureRequest) (*StatusResponse, error)
	SetSystemConfig(ctx context.Context, req *model.SystemConfig) (*model.SystemConfig, error)
}

func fullMethod(method string) string {
	return "/" + SERVICE_NAME + "/" + method
}

func unary[Req any, Res any](method string, call func(ExecutionServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExecutionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ExecutionServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: SERVICE_NAME,
	HandlerType: (*ExecutionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateExecution", ExecutionServer.CreateExecution),
		unary("GetExecution", ExecutionServer.GetExecution),
		unary("ReportFailure", ExecutionServer.ReportFailure),
		unary("SetSystemConfig", ExecutionServer.SetSystemConfig),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mediaflow/v1/execution.json",
}

func RegisterExecutionServer(s *grpc.Server, srv ExecutionServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client calls an ExecutionServer over a grpc connection.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in interface{}, out interface{}) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CODEC_NAME))
}

func (c *Client) CreateExecution(ctx context.Context, req *model.ExecutionRequest) (*model.WorkflowExecution, error) {
	out := new(model.WorkflowExecution)
	if err := c.invoke(ctx, "CreateExecution", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	out := new(model.WorkflowExecution)
	if err := c.invoke(ctx, "GetExecution", &GetExecutionRequest{Id: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReportFailure(ctx context.Context, id string, reason string) error {
	out := new(StatusResponse)
	return c.invoke(ctx, "ReportFailure", &ReportFailureRequest{Id: id, Reason: reason}, out)
}

func (c *Client) SetSystemConfig(ctx context.Context, maxWorkflows int) (*model.SystemConfig, error) {
	out := new(model.SystemConfig)
	if err := c.invoke(ctx, "SetSystemConfig", &model.SystemConfig{MaxConcurrentWorkflows: maxWorkflows}, out); err != nil {
		return nil, err
	}
	return out, nil
}
