package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/application"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/logger"
	"github.com/wyfcoding/creditrisk/pkg/response"
)

// CreditRiskHandler 负责处理信用风险相关的 HTTP 请求
type CreditRiskHandler struct {
	svc *application.CreditRiskService
}

// NewCreditRiskHandler 创建 HTTP 处理器
func NewCreditRiskHandler(svc *application.CreditRiskService) *CreditRiskHandler {
	return &CreditRiskHandler{svc: svc}
}

// RegisterRoutes 注册路由，simulation 中间件（如限流）只作用于模拟接口
func (h *CreditRiskHandler) RegisterRoutes(router *gin.RouterGroup, simulation ...gin.HandlerFunc) {
	api := router.Group("/api/v1/credit-risk")
	{
		api.POST("/schedules", h.GenerateSchedule)
		api.POST("/fractional-payments", h.CalculateFractionalPayment)
		api.POST("/durations", h.AnalyzeDuration)
		api.PUT("/market-data", h.ImportMarketData)
	}
	sim := api.Group("", simulation...)
	{
		sim.POST("/simulations", h.SimulateEntity)
		sim.POST("/portfolio-simulations", h.SimulatePortfolio)
	}
}

// GenerateSchedule 生成摊还计划
func (h *CreditRiskHandler) GenerateSchedule(c *gin.Context) {
	var req application.ScheduleRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.GenerateSchedule(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to generate schedule", err)
		return
	}
	response.Success(c, dto)
}

// CalculateFractionalPayment 计算下一张账单
func (h *CreditRiskHandler) CalculateFractionalPayment(c *gin.Context) {
	var req application.FractionalRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.CalculateFractionalPayment(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to calculate fractional payment", err)
		return
	}
	response.Success(c, dto)
}

// AnalyzeDuration 久期与利率敏感度分析
func (h *CreditRiskHandler) AnalyzeDuration(c *gin.Context) {
	var req application.DurationRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.AnalyzeDuration(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to analyze duration", err)
		return
	}
	response.Success(c, dto)
}

// ImportMarketData 导入行业波动率、抵押物参数与相关系数
func (h *CreditRiskHandler) ImportMarketData(c *gin.Context) {
	var req application.MarketDataRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.ImportMarketData(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to import market data", err)
		return
	}
	response.Success(c, dto)
}

// SimulateEntity 单主体蒙特卡洛模拟
func (h *CreditRiskHandler) SimulateEntity(c *gin.Context) {
	var req application.EntitySimulationRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.SimulateEntity(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to simulate entity", err)
		return
	}
	response.Success(c, dto)
}

// SimulatePortfolio 组合蒙特卡洛模拟
func (h *CreditRiskHandler) SimulatePortfolio(c *gin.Context) {
	var req application.PortfolioSimulationRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.svc.SimulatePortfolio(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to simulate portfolio", err)
		return
	}
	response.Success(c, dto)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (h *CreditRiskHandler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), msg, "error", err)
	} else {
		logger.Warn(c.Request.Context(), msg, "error", err)
	}
	text := http.StatusText(status)
	if text == "" {
		text = "Client Closed Request"
	}
	response.ErrorWithStatus(c, status, text, err.Error())
}

// statusClientClosedRequest 客户端取消请求（nginx 约定）
const statusClientClosedRequest = 499

// statusFor 领域错误映射为 HTTP 状态码。调用方给出的相关系数非法时同时带有 ErrInvalidSimulationInput
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidLoanTerms),
		errors.Is(err, domain.ErrInvalidSimulationInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCorrelation):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrNonFiniteResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, application.ErrMarketDataStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
