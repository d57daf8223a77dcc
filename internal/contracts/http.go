package contracts

import "github.com/shopspring/decimal"

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FundEscrowRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RequestReleaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RejectReleaseRequest struct {
	Reason string `json:"reason"`
}
