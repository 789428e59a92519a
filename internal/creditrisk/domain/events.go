package domain

import (
	"time"
)

// SimulationCompletedEvent 单主体模拟完成事件
type SimulationCompletedEvent struct {
	RunID                string
	EntityID             string
	PathCount            int
	Years                int
	ProbabilityOfDefault float64
	ExpectedLoss         float64
	CorrelationRepaired  bool
	DegradedInputs       int
	OccurredOn           time.Time
}

// PortfolioSimulationCompletedEvent 组合模拟完成事件
type PortfolioSimulationCompletedEvent struct {
	RunID                string
	EntityCount          int
	PathCount            int
	Years                int
	PortfolioDefaultRate float64
	JointDefaultRate     float64
	ExpectedLoss         float64
	VaR99                float64
	CorrelationRepaired  bool
	DegradedInputs       int
	OccurredOn           time.Time
}
