package netting

import (
	"fmt"

	"debtloop/pkg/config"

	"github.com/shopspring/decimal"
)

// FeeSchedule prices a loop in utility tokens:
//
//	round(Base + participants*PerParticipant + min(value/ValueDivisor, ValueCap))
type FeeSchedule struct {
	Base           decimal.Decimal
	PerParticipant decimal.Decimal
	ValueDivisor   decimal.Decimal
	ValueCap       decimal.Decimal
}

// DefaultFeeSchedule returns base 10, 5 per participant and a value
// component of value/1000 capped at 10.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Base:           decimal.NewFromInt(10),
		PerParticipant: decimal.NewFromInt(5),
		ValueDivisor:   decimal.NewFromInt(1000),
		ValueCap:       decimal.NewFromInt(10),
	}
}

// NewFeeSchedule parses the configured schedule.
func NewFeeSchedule(cfg config.FeeConfig) (FeeSchedule, error) {
	if err := cfg.Validate(); err != nil {
		return FeeSchedule{}, err
	}

	parse := func(s string) decimal.Decimal {
		v, _ := decimal.NewFromString(s)
		return v
	}

	return FeeSchedule{
		Base:           parse(cfg.Base),
		PerParticipant: parse(cfg.PerParticipant),
		ValueDivisor:   parse(cfg.ValueDivisor),
		ValueCap:       parse(cfg.ValueCap),
	}, nil
}

// Calculate returns the fee for loop. It depends only on the participant
// count and total value, so a quoted fee always matches the charged one.
func (f FeeSchedule) Calculate(loop Loop) int64 {
	participants := decimal.NewFromInt(int64(loop.Size()))

	valuePart := decimal.Zero
	if f.ValueDivisor.IsPositive() {
		valuePart = decimal.Min(loop.TotalValue.Div(f.ValueDivisor), f.ValueCap)
	}

	fee := f.Base.Add(participants.Mul(f.PerParticipant)).Add(valuePart)
	return fee.Round(0).IntPart()
}

func (f FeeSchedule) String() string {
	return fmt.Sprintf("base=%s per_participant=%s divisor=%s cap=%s",
		f.Base, f.PerParticipant, f.ValueDivisor, f.ValueCap)
}
