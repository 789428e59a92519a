package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/application"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/config"
	"github.com/wyfcoding/creditrisk/pkg/middleware"
)

func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := application.NewCreditRiskService(nil, nil, nil, config.SimulationConfig{
		DefaultPaths: 100, MaxPaths: 1000, DefaultYears: 2, MaxYears: 5, Workers: 1, BatchSize: 50,
		DefaultSectorVolatility: 0.2, DefaultCollateralVolatility: 0.15, DefaultCollateralHaircut: 0.3,
		TaxRate: 0.25, PortfolioLossThreshold: 0.05, CollateralShortfallThreshold: 0.1,
	}, log)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
	))
	NewServer(srv, app)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGenerateScheduleOverGRPC(t *testing.T) {
	conn := dial(t)
	req := &application.ScheduleRequest{Loan: application.LoanTermsRequest{
		Principal: 100_000, AnnualRate: 6, TenorMonths: 360, Redemption: "ANNUITY",
	}}
	var resp application.ScheduleDTO
	require.NoError(t, conn.Invoke(context.Background(), "/"+ServiceName+"/GenerateSchedule", req, &resp))
	assert.Equal(t, "599.55", resp.RegularPayment)
	assert.Len(t, resp.Entries, 360)
}

func TestInvalidInputMapsToInvalidArgument(t *testing.T) {
	conn := dial(t)
	req := &application.ScheduleRequest{Loan: application.LoanTermsRequest{
		Principal: 1000, AnnualRate: 5, TenorMonths: 12, Redemption: "BALLOON",
	}}
	var resp application.ScheduleDTO
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/GenerateSchedule", req, &resp)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(context.Background(), "/"+ServiceName+"/SimulatePortfolio", &application.PortfolioSimulationRequest{}, &application.PortfolioResultDTO{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUnknownMethod(t *testing.T) {
	conn := dial(t)
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/Nope", &application.ScheduleRequest{}, &application.ScheduleDTO{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestImportMarketDataOverGRPC(t *testing.T) {
	conn := dial(t)
	method := "/" + ServiceName + "/ImportMarketData"

	bad := &application.MarketDataRequest{Correlation: &application.CorrelationBlocksRequest{
		Sectors:      []domain.SectorCode{"AGRI", "RETAIL"},
		SectorSector: [][]float64{{1, 0.9}, {0.2, 1}},
	}}
	err := conn.Invoke(context.Background(), method, bad, &application.MarketDataImportDTO{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	good := &application.MarketDataRequest{SectorVolatility: map[domain.SectorCode]float64{"AGRI": 0.2}}
	err = conn.Invoke(context.Background(), method, good, &application.MarketDataImportDTO{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrInvalidLoanTerms, codes.InvalidArgument},
		{fmt.Errorf("%w: %w", domain.ErrInvalidSimulationInput, domain.ErrInvalidCorrelation), codes.InvalidArgument},
		{fmt.Errorf("stored correlation data unusable: %w", domain.ErrInvalidCorrelation), codes.FailedPrecondition},
		{domain.ErrNonFiniteResult, codes.OutOfRange},
		{application.ErrMarketDataStoreUnavailable, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(toStatus(tc.err)), tc.err.Error())
	}
	assert.NoError(t, toStatus(nil))
}
