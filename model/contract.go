package model

import (
	"time"
)

// Document is an uploaded file together with the text extracted from it
type Document struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	FileName      string    `json:"file_name"`
	MIMEType      string    `json:"mime_type"`
	FileSize      int64     `json:"file_size"`
	StorageKey    string    `json:"storage_key,omitempty"`
	FileURL       string    `json:"file_url,omitempty"`
	ExtractedText string    `json:"-"`
	WordCount     int       `json:"word_count"`
	PageCount     int       `json:"page_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContractRecord tracks the analysis state of a document
type ContractRecord struct {
	Document
	Status     string    `json:"status"` // pending, processing, completed, failed
	ErrorMsg   string    `json:"error_msg,omitempty"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ContractStatus constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CanTransition reports whether a record may move from one status to another
// during a normal analysis run.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// CanRerun reports whether a record may be explicitly restarted.
func CanRerun(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsTerminal reports whether no further implicit transition is allowed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// AnalysisRecord is the persisted form of the current analysis of a contract
type AnalysisRecord struct {
	ID         string    `json:"id"`
	ContractID string    `json:"contract_id"`
	UserID     string    `json:"user_id"`
	Payload    []byte    `json:"-"`
	RiskScore  float64   `json:"risk_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnalysisRequest is the input of a single model-path attempt
type AnalysisRequest struct {
	Text    string
	Title   string
	Timeout time.Duration
}
