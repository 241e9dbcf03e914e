package interfaces

import (
	"context"

	"intraday-trading-bot/internal/types"
)

type Engine interface {
	Step(ctx context.Context, symbol string) (*types.StepResult, error)
}
