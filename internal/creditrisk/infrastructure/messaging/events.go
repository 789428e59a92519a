package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
)

const (
	EventTypeSimulationCompleted          = "CreditSimulationCompletedEvent"
	EventTypePortfolioSimulationCompleted = "CreditPortfolioSimulationCompletedEvent"
)

// Envelope 消息外层结构，下游按 event_type 分发
type Envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredOn time.Time `json:"occurred_on"`
	Data       any       `json:"data"`
}

type simulationCompletedPayload struct {
	RunID                string  `json:"run_id"`
	EntityID             string  `json:"entity_id"`
	PathCount            int     `json:"path_count"`
	Years                int     `json:"years"`
	ProbabilityOfDefault float64 `json:"probability_of_default"`
	ExpectedLoss         float64 `json:"expected_loss"`
	CorrelationRepaired  bool    `json:"correlation_repaired"`
	DegradedInputs       int     `json:"degraded_inputs"`
}

type portfolioSimulationCompletedPayload struct {
	RunID                string  `json:"run_id"`
	EntityCount          int     `json:"entity_count"`
	PathCount            int     `json:"path_count"`
	Years                int     `json:"years"`
	PortfolioDefaultRate float64 `json:"portfolio_default_rate"`
	JointDefaultRate     float64 `json:"joint_default_rate"`
	ExpectedLoss         float64 `json:"expected_loss"`
	VaR99                float64 `json:"var_99"`
	CorrelationRepaired  bool    `json:"correlation_repaired"`
	DegradedInputs       int     `json:"degraded_inputs"`
}

func simulationEnvelope(e domain.SimulationCompletedEvent) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventTypeSimulationCompleted,
		OccurredOn: e.OccurredOn,
		Data: simulationCompletedPayload{
			RunID:                e.RunID,
			EntityID:             e.EntityID,
			PathCount:            e.PathCount,
			Years:                e.Years,
			ProbabilityOfDefault: e.ProbabilityOfDefault,
			ExpectedLoss:         e.ExpectedLoss,
			CorrelationRepaired:  e.CorrelationRepaired,
			DegradedInputs:       e.DegradedInputs,
		},
	}
}

func portfolioEnvelope(e domain.PortfolioSimulationCompletedEvent) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventTypePortfolioSimulationCompleted,
		OccurredOn: e.OccurredOn,
		Data: portfolioSimulationCompletedPayload{
			RunID:                e.RunID,
			EntityCount:          e.EntityCount,
			PathCount:            e.PathCount,
			Years:                e.Years,
			PortfolioDefaultRate: e.PortfolioDefaultRate,
			JointDefaultRate:     e.JointDefaultRate,
			ExpectedLoss:         e.ExpectedLoss,
			VaR99:                e.VaR99,
			CorrelationRepaired:  e.CorrelationRepaired,
			DegradedInputs:       e.DegradedInputs,
		},
	}
}
