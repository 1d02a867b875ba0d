// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Transaction represents an incoming transaction to be scored.
// Immutable once scored.
type Transaction struct {
	// Core identifiers
	ID string `json:"id"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Merchant
	MerchantID       string `json:"merchantId"`
	MerchantName     string `json:"merchantName,omitempty"`
	MerchantCategory string `json:"merchantCategory"`

	// Channel (e.g., "online", "pos", "atm", "mobile")
	Channel string `json:"channel"`

	// Acting parties
	CustomerID string `json:"customerId"`
	AccountID  string `json:"accountId"`
	DeviceID   string `json:"deviceId,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`

	// Geography
	GeoCountry string `json:"geoCountry,omitempty"`
	GeoCity    string `json:"geoCity,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoricalStats holds per-customer aggregates supplied by the persistence
// layer. A nil *HistoricalStats is valid everywhere it is accepted; consumers
// substitute neutral defaults.
type HistoricalStats struct {
	AvgAmount            float64 `json:"avgAmount"`
	StdAmount            float64 `json:"stdAmount"`
	LastTransactionHours float64 `json:"lastTransactionHours"`
	TxCount24h           int     `json:"txCount24h"`
	TxCount7d            int     `json:"txCount7d"`
}

// ScoreRequest is the API request payload for transaction scoring.
type ScoreRequest struct {
	Amount           float64 `json:"amount" validate:"required,gte=0"`
	Currency         string  `json:"currency" validate:"required,len=3"`
	MerchantID       string  `json:"merchantId"`
	MerchantName     string  `json:"merchantName,omitempty"`
	MerchantCategory string  `json:"merchantCategory"`
	Channel          string  `json:"channel"`
	CustomerID       string  `json:"customerId" validate:"required"`
	AccountID        string  `json:"accountId"`
	DeviceID         string  `json:"deviceId,omitempty"`
	IPAddress        string  `json:"ipAddress,omitempty"`
	GeoCountry       string  `json:"geoCountry,omitempty"`
	GeoCity          string  `json:"geoCity,omitempty"`
	Timestamp        string  `json:"timestamp,omitempty"` // RFC 3339
}

// ToTransaction converts a request to a Transaction domain object.
// An unparseable or absent timestamp defaults to the current time rather than
// rejecting the request; a dropped transaction is worse than a stale clock.
func (r *ScoreRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()

	ts := now
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	return &Transaction{
		Amount:           r.Amount,
		Currency:         r.Currency,
		MerchantID:       r.MerchantID,
		MerchantName:     r.MerchantName,
		MerchantCategory: r.MerchantCategory,
		Channel:          r.Channel,
		CustomerID:       r.CustomerID,
		AccountID:        r.AccountID,
		DeviceID:         r.DeviceID,
		IPAddress:        r.IPAddress,
		GeoCountry:       r.GeoCountry,
		GeoCity:          r.GeoCity,
		Timestamp:        ts,
		CreatedAt:        now,
	}
}
