package service

import (
	"context"
	"errors"

	"github.com/AnTengye/contractrisk/model"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository persists contract records and their current analysis
type Repository interface {
	CreateContract(ctx context.Context, rec *model.ContractRecord) error
	GetContract(ctx context.Context, id string) (*model.ContractRecord, error)
	// ListContracts returns the user's records newest first. An empty status
	// matches every status.
	ListContracts(ctx context.Context, userID, status string) ([]*model.ContractRecord, error)
	CountContracts(ctx context.Context, userID, status string) (int, error)
	// UpdateStatus moves a record along the normal lifecycle and fails with
	// ErrInvalidTransition for any other move.
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	// RestartForRerun moves a completed or failed record back to processing.
	RestartForRerun(ctx context.Context, id string) error
	// SaveAnalysis stores rec as the contract's only current analysis.
	SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error
	GetAnalysis(ctx context.Context, contractID string) (*model.AnalysisRecord, error)
	// DeleteContract removes the record together with its analysis.
	DeleteContract(ctx context.Context, id string) error
}
