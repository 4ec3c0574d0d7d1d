package store

import (
	"encoding/json"
	"time"
)

// Config keys.
const (
	ConfigKeyAuthToken = "auth_token"
)

const defaultListLimit = 50

// Batch is one persisted analysis or estimation run.
type Batch struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	Status           string          `json:"status"`
	VideoCount       int             `json:"video_count"`
	FailedCount      int             `json:"failed_count"`
	GrandTotalTokens int64           `json:"grand_total_tokens"`
	GrandTotalCost   float64         `json:"grand_total_cost"`
	ElapsedMs        int64           `json:"elapsed_ms"`
	Request          json.RawMessage `json:"request,omitempty"`
	Response         json.RawMessage `json:"response,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Summary drops the request and response payloads for listings.
func (b *Batch) Summary() *Batch {
	c := *b
	c.Request = nil
	c.Response = nil
	return &c
}
