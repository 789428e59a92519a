package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/application"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
)

// ServiceName gRPC 服务全名
const ServiceName = "creditrisk.v1.CreditRiskService"

// CreditRiskServiceServer gRPC 服务接口
type CreditRiskServiceServer interface {
	GenerateSchedule(context.Context, *application.ScheduleRequest) (*application.ScheduleDTO, error)
	CalculateFractionalPayment(context.Context, *application.FractionalRequest) (*application.FractionalDTO, error)
	AnalyzeDuration(context.Context, *application.DurationRequest) (*application.DurationDTO, error)
	SimulateEntity(context.Context, *application.EntitySimulationRequest) (*application.SimulationResultDTO, error)
	SimulatePortfolio(context.Context, *application.PortfolioSimulationRequest) (*application.PortfolioResultDTO, error)
	ImportMarketData(context.Context, *application.MarketDataRequest) (*application.MarketDataImportDTO, error)
}

// Server gRPC 服务实现
type Server struct {
	app *application.CreditRiskService
}

// NewServer 创建并注册服务
func NewServer(s *grpc.Server, app *application.CreditRiskService) *Server {
	srv := &Server{app: app}
	s.RegisterService(&serviceDesc, srv)
	return srv
}

var _ CreditRiskServiceServer = (*Server)(nil)

func (s *Server) GenerateSchedule(ctx context.Context, req *application.ScheduleRequest) (*application.ScheduleDTO, error) {
	resp, err := s.app.GenerateSchedule(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) CalculateFractionalPayment(ctx context.Context, req *application.FractionalRequest) (*application.FractionalDTO, error) {
	resp, err := s.app.CalculateFractionalPayment(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) AnalyzeDuration(ctx context.Context, req *application.DurationRequest) (*application.DurationDTO, error) {
	resp, err := s.app.AnalyzeDuration(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) SimulateEntity(ctx context.Context, req *application.EntitySimulationRequest) (*application.SimulationResultDTO, error) {
	resp, err := s.app.SimulateEntity(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) SimulatePortfolio(ctx context.Context, req *application.PortfolioSimulationRequest) (*application.PortfolioResultDTO, error) {
	resp, err := s.app.SimulatePortfolio(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) ImportMarketData(ctx context.Context, req *application.MarketDataRequest) (*application.MarketDataImportDTO, error) {
	resp, err := s.app.ImportMarketData(ctx, *req)
	return resp, toStatus(err)
}

// toStatus 领域错误映射为 gRPC 状态码
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrInvalidLoanTerms),
		errors.Is(err, domain.ErrInvalidSimulationInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInvalidCorrelation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrNonFiniteResult):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, application.ErrMarketDataStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func unary[Req, Resp any](name string, call func(CreditRiskServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			s := srv.(CreditRiskServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditRiskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateSchedule", CreditRiskServiceServer.GenerateSchedule),
		unary("CalculateFractionalPayment", CreditRiskServiceServer.CalculateFractionalPayment),
		unary("AnalyzeDuration", CreditRiskServiceServer.AnalyzeDuration),
		unary("SimulateEntity", CreditRiskServiceServer.SimulateEntity),
		unary("SimulatePortfolio", CreditRiskServiceServer.SimulatePortfolio),
		unary("ImportMarketData", CreditRiskServiceServer.ImportMarketData),
	},
	Streams: []grpc.StreamDesc{},
}
