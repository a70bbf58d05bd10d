package backend

import (
	"encoding/json"

	"x402-Dashboard/internal/config"
)

// Agent is a trading agent record as stored by the backend.
type Agent struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id,omitempty"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	ContractAddress string             `json:"contract_address"`
	Balance         string             `json:"balance,omitempty"`
	Status          config.AgentStatus `json:"status,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
}

// CreateAgentRequest registers a deployed agent contract.
type CreateAgentRequest struct {
	UserWalletAddress string `json:"user_wallet_address"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ContractAddress   string `json:"contract_address"`
}

// AgentStats summarises an agent's trading history.
type AgentStats struct {
	TotalTrades      int64              `json:"total_trades"`
	SuccessfulTrades int64              `json:"successful_trades"`
	Balance          string             `json:"balance"`
	Status           config.AgentStatus `json:"status"`
}

// Service is a market listing.
type Service struct {
	ID              string             `json:"id"`
	ContractAddress string             `json:"contract_address"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	ServiceType     config.ServiceType `json:"service_type"`
	Price           string             `json:"price"`
	Rating          float64            `json:"rating"`
	CallCount       int64              `json:"call_count"`
	ProviderAddress string             `json:"provider_address"`
	PricingModel    json.RawMessage    `json:"pricing_model,omitempty"`
}

// ServiceQuery filters the market listing. Zero values are omitted.
type ServiceQuery struct {
	ServiceType string
	Limit       int
	Offset      int
}

// Transaction is an agent trade.
type Transaction struct {
	ID              string                   `json:"id"`
	TxHash          string                   `json:"tx_hash"`
	TransactionType string                   `json:"transaction_type"`
	Amount          string                   `json:"amount"`
	Status          config.TransactionStatus `json:"status"`
	CreatedAt       string                   `json:"created_at"`
}
