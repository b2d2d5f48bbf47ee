package models

// UsageRecord is one billable generation. Rows are append-only.
type UsageRecord struct {
	ID               string  `gorm:"primaryKey" json:"id"`
	Timestamp        int64   `gorm:"index" json:"timestamp"` // unix milliseconds
	Provider         string  `gorm:"index" json:"provider"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
	Estimated        bool    `json:"estimated,omitempty"` // token counts derived from text length
	CallerID         string  `gorm:"index" json:"callerId,omitempty"`
	RequestID        string  `json:"requestId,omitempty"`
}

// TableName keeps the table name stable across stores.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageQuery selects records for aggregation. Empty filters match everything.
type UsageQuery struct {
	SinceMillis int64
	CallerID    string
	Provider    string
}

// UsageStats holds aggregated usage for a window.
type UsageStats struct {
	TotalCost    float64 `json:"totalCost"`
	TotalTokens  int64   `json:"totalTokens"`
	RequestCount int64   `json:"requestCount"`
}
