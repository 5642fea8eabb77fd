package service

import (
	"math"

	"towing/internal/domain"
)

// Summary is the settlement breakdown of a finalized request.
type Summary struct {
	RequestID        string  `json:"request_id"`
	BaseAmount       float64 `json:"base_amount"`
	TollAmount       float64 `json:"toll_amount"`
	SkatesAmount     float64 `json:"skates_amount"`
	Total            float64 `json:"total"`
	CommissionRate   float64 `json:"commission_rate"`
	CommissionAmount float64 `json:"commission_amount"`
	NetAmount        float64 `json:"net_amount"`
	Covered          bool    `json:"covered"`
}

// Summarize computes the settlement of req. Stored values written at
// finalization win over recomputed ones.
func Summarize(req *domain.Request, defaultRate float64) Summary {
	total := req.FinalAmount
	if total <= 0 {
		total = req.Amount + req.TollAmount + req.SkatesAmount
	}

	rate := req.CommissionRate
	if rate <= 0 {
		rate = defaultRate
	}

	commission := req.CommissionAmount
	if commission <= 0 {
		commission = roundCents(total * rate / 100)
	}

	return Summary{
		RequestID:        req.ID,
		BaseAmount:       req.Amount,
		TollAmount:       req.TollAmount,
		SkatesAmount:     req.SkatesAmount,
		Total:            roundCents(total),
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetAmount:        roundCents(total - commission),
		Covered:          req.IsCovered(),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
