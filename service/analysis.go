package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/jsonrepair"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/google/uuid"
)

const DefaultAnalysisTimeout = 45 * time.Second

// Result sources, recorded in logs only
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Validator decides whether candidate JSON has the analysis shape
type Validator interface {
	Validate(data []byte) bool
}

// AnalyzerDeps are the collaborators of an Analyzer. Model and Storage are
// optional: without a model every analysis uses the rule-based analyzer, and
// without storage reruns reuse the stored text.
type AnalyzerDeps struct {
	Extractor      TextExtractor
	Model          Completer
	Validator      Validator
	Fallback       *FallbackAnalyzer
	Repo           Repository
	Storage        ObjectStorage
	Now            func() time.Time
	NewID          func() string
	Timeout        time.Duration
	MaxUploadBytes int64
	MaxPromptChars int
}

// Upload is a document submitted for analysis
type Upload struct {
	UserID   string
	Title    string
	FileName string
	MIMEType string
	Data     []byte
}

// Outcome is the state after a completed analysis
type Outcome struct {
	Contract *model.ContractRecord
	Analysis *model.AnalysisResult
	Source   string
}

// Analyzer runs uploads through extraction, analysis and persistence
type Analyzer struct {
	deps AnalyzerDeps
}

func NewAnalyzer(deps AnalyzerDeps) (*Analyzer, error) {
	if deps.Extractor == nil {
		return nil, errors.New("analyzer: extractor is required")
	}
	if deps.Repo == nil {
		return nil, errors.New("analyzer: repository is required")
	}
	if deps.Validator == nil {
		deps.Validator = NewSchemaValidator()
	}
	if deps.Fallback == nil {
		deps.Fallback = NewFallbackAnalyzer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultAnalysisTimeout
	}
	return &Analyzer{deps: deps}, nil
}

// Analyze validates and extracts the upload, creates its record and stores
// the current analysis. Validation and extraction failures return before any
// record exists.
func (a *Analyzer) Analyze(ctx context.Context, up Upload) (*Outcome, error) {
	if err := a.validateUpload(up); err != nil {
		return nil, err
	}

	ext, err := a.deps.Extractor.Extract(ctx, up.Data, up.MIMEType, up.FileName)
	if err != nil {
		logger.Warn(ctx, "extraction failed", "file_name", up.FileName, "error", err)
		return nil, err
	}

	now := a.deps.Now()
	rec := &model.ContractRecord{
		Document: model.Document{
			ID:            a.deps.NewID(),
			UserID:        up.UserID,
			Title:         titleFor(up),
			FileName:      up.FileName,
			MIMEType:      up.MIMEType,
			FileSize:      int64(len(up.Data)),
			ExtractedText: ext.Text,
			WordCount:     ext.WordCount,
			PageCount:     ext.PageCount,
			CreatedAt:     now,
		},
		Status:    model.StatusProcessing,
		UpdatedAt: now,
	}
	ctx = logger.WithContractID(ctx, rec.ID)

	if a.deps.Storage != nil {
		key := ObjectKey(up.UserID, rec.ID, up.FileName)
		url, err := a.deps.Storage.Put(ctx, key, up.Data, up.MIMEType)
		if err != nil {
			return nil, wrap(ErrPersistence, fmt.Errorf("store original file: %w", err))
		}
		rec.StorageKey = key
		rec.FileURL = url
	}

	if err := a.deps.Repo.CreateContract(durable(ctx), rec); err != nil {
		a.removeObject(ctx, rec.StorageKey)
		return nil, wrap(ErrPersistence, err)
	}
	logger.Info(ctx, "contract created",
		"file_name", rec.FileName,
		"words", rec.WordCount,
		"pages", rec.PageCount,
	)

	return a.run(ctx, rec)
}

// Rerun repeats the analysis of an existing contract and replaces its
// current analysis. Only completed or failed contracts can be rerun.
func (a *Analyzer) Rerun(ctx context.Context, contractID, userID string) (*Outcome, error) {
	ctx = logger.WithContractID(ctx, contractID)
	rec, err := a.owned(ctx, contractID, userID)
	if err != nil {
		return nil, err
	}
	if !model.CanRerun(rec.Status) {
		return nil, ErrContractBusy
	}

	if a.deps.Storage != nil && rec.StorageKey != "" {
		if data, err := a.deps.Storage.Get(ctx, rec.StorageKey); err != nil {
			logger.Warn(ctx, "original file unavailable, reusing stored text", "error", err)
		} else if ext, err := a.deps.Extractor.Extract(ctx, data, rec.MIMEType, rec.FileName); err != nil {
			logger.Warn(ctx, "re-extraction failed, reusing stored text", "error", err)
		} else {
			rec.ExtractedText = ext.Text
			rec.WordCount = ext.WordCount
			rec.PageCount = ext.PageCount
		}
	}
	if strings.TrimSpace(rec.ExtractedText) == "" {
		return nil, ErrNoTextExtracted
	}

	if err := a.deps.Repo.RestartForRerun(durable(ctx), rec.ID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, ErrContractBusy
		}
		return nil, wrap(ErrPersistence, err)
	}
	rec.Status = model.StatusProcessing
	rec.ErrorMsg = ""
	logger.Info(ctx, "contract rerun started")

	return a.run(ctx, rec)
}

// run analyzes a record that is already processing. Any failure from here on
// marks the record failed and returns the original error.
func (a *Analyzer) run(ctx context.Context, rec *model.ContractRecord) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
			out = nil
		}
		if err != nil {
			a.markFailed(ctx, rec.ID, err)
		}
	}()

	start := a.deps.Now()
	result, source := a.analyze(ctx, rec, start)

	if err := a.persist(ctx, rec, result, start); err != nil {
		return nil, err
	}

	stored, err := a.deps.Repo.GetContract(durable(ctx), rec.ID)
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	logger.Info(ctx, "analysis completed",
		"source", source,
		"risk_score", result.RiskScore(),
		"elapsed_ms", a.deps.Now().Sub(start).Milliseconds(),
	)
	return &Outcome{Contract: stored, Analysis: result, Source: source}, nil
}

type modelResult struct {
	result *model.AnalysisResult
	err    error
}

// analyze races the model path against the timeout. Every failure of the
// model path resolves to the rule-based result; the losing model call is
// cancelled.
func (a *Analyzer) analyze(ctx context.Context, rec *model.ContractRecord, now time.Time) (*model.AnalysisResult, string) {
	info := DocumentInfo{
		Title:      rec.Title,
		WordCount:  rec.WordCount,
		PageCount:  rec.PageCount,
		AnalyzedAt: now,
	}
	fallback := func() (*model.AnalysisResult, string) {
		return a.deps.Fallback.Analyze(rec.ExtractedText, info), SourceFallback
	}
	if a.deps.Model == nil {
		return fallback()
	}

	req := model.AnalysisRequest{Text: rec.ExtractedText, Title: rec.Title, Timeout: a.deps.Timeout}
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	done := make(chan modelResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- modelResult{err: fmt.Errorf("model path panicked: %v", r)}
			}
		}()
		res, err := a.modelPath(runCtx, req, info)
		done <- modelResult{result: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logger.Warn(ctx, "model analysis unusable, using rule-based analysis",
				"kind", KindOf(r.err),
				"error", r.err,
			)
			return fallback()
		}
		return r.result, SourceModel
	case <-runCtx.Done():
		logger.Warn(ctx, "model analysis timed out, using rule-based analysis",
			"timeout", req.Timeout.String(),
			"error", runCtx.Err(),
		)
		return fallback()
	}
}

// modelPath asks the model for an analysis and turns its output into a
// result: sanitize, repair, validate, decode.
func (a *Analyzer) modelPath(ctx context.Context, req model.AnalysisRequest, info DocumentInfo) (*model.AnalysisResult, error) {
	messages := buildAnalysisMessages(req, info, a.deps.MaxPromptChars)
	raw, err := a.deps.Model.Complete(ctx, messages, CompleteOptions{ForceJSON: true})
	if err != nil {
		return nil, err
	}

	_, repaired, err := jsonrepair.Parse(raw)
	if err != nil {
		return nil, wrap(ErrUnparsableOutput, err)
	}
	if !a.deps.Validator.Validate(repaired) {
		return nil, ErrSchemaMismatch
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(repaired, &result); err != nil {
		return nil, wrap(ErrSchemaMismatch, err)
	}
	fillMetadata(&result, info)
	return &result, nil
}

// fillMetadata supplies document facts the model left out.
func fillMetadata(r *model.AnalysisResult, info DocumentInfo) {
	m := &r.Metadata
	if m.ContractName == "" {
		m.ContractName = info.Title
	}
	if m.WordCount == 0 {
		m.WordCount = info.WordCount
	}
	if m.PageCount == 0 {
		m.PageCount = info.PageCount
	}
	if m.ComplexityLevel == "" {
		m.ComplexityLevel = ComplexityLevel(info.WordCount)
	}
	if m.AnalyzedAt == "" && !info.AnalyzedAt.IsZero() {
		m.AnalyzedAt = info.AnalyzedAt.UTC().Format(time.RFC3339)
	}
}

func (a *Analyzer) persist(ctx context.Context, rec *model.ContractRecord, result *model.AnalysisResult, now time.Time) error {
	payload, err := model.EncodePayload(result)
	if err != nil {
		return wrap(ErrPersistence, err)
	}
	ctx = durable(ctx)
	err = a.deps.Repo.SaveAnalysis(ctx, &model.AnalysisRecord{
		ID:         a.deps.NewID(),
		ContractID: rec.ID,
		UserID:     rec.UserID,
		Payload:    payload,
		RiskScore:  result.RiskScore(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return wrap(ErrPersistence, err)
	}
	if err := a.deps.Repo.UpdateStatus(ctx, rec.ID, model.StatusCompleted, ""); err != nil {
		return wrap(ErrPersistence, err)
	}
	return nil
}

// markFailed records the failure best-effort. A failed write is logged and
// never replaces the original error.
func (a *Analyzer) markFailed(ctx context.Context, id string, cause error) {
	if err := a.deps.Repo.UpdateStatus(durable(ctx), id, model.StatusFailed, cause.Error()); err != nil {
		logger.Error(ctx, "failed to mark contract failed", "error", err, "cause", cause)
		return
	}
	logger.Error(ctx, "analysis failed", "error", cause)
}

// Get returns the user's contract.
func (a *Analyzer) Get(ctx context.Context, contractID, userID string) (*model.ContractRecord, error) {
	return a.owned(ctx, contractID, userID)
}

func (a *Analyzer) List(ctx context.Context, userID, status string) ([]*model.ContractRecord, int, error) {
	list, err := a.deps.Repo.ListContracts(ctx, userID, status)
	if err != nil {
		return nil, 0, wrap(ErrPersistence, err)
	}
	total, err := a.deps.Repo.CountContracts(ctx, userID, status)
	if err != nil {
		return nil, 0, wrap(ErrPersistence, err)
	}
	return list, total, nil
}

// Result returns the contract and its current analysis, migrated to the
// current schema.
func (a *Analyzer) Result(ctx context.Context, contractID, userID string) (*model.ContractRecord, *model.AnalysisResult, error) {
	rec, err := a.owned(ctx, contractID, userID)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != model.StatusCompleted {
		return rec, nil, ErrContractBusy
	}
	stored, err := a.deps.Repo.GetAnalysis(ctx, rec.ID)
	if err != nil {
		return rec, nil, wrap(ErrPersistence, err)
	}
	result, err := model.DecodePayload(stored.Payload)
	if err != nil {
		return rec, nil, wrap(ErrPersistence, err)
	}
	return rec, result, nil
}

// Delete removes a finished contract, its analysis and its stored file.
func (a *Analyzer) Delete(ctx context.Context, contractID, userID string) error {
	rec, err := a.owned(ctx, contractID, userID)
	if err != nil {
		return err
	}
	if !model.IsTerminal(rec.Status) {
		return ErrContractBusy
	}
	if err := a.deps.Repo.DeleteContract(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrContractNotFound
		}
		return wrap(ErrPersistence, err)
	}
	a.removeObject(ctx, rec.StorageKey)
	logger.Info(logger.WithContractID(ctx, rec.ID), "contract deleted")
	return nil
}

// owned loads a contract, hiding contracts of other users as not found.
func (a *Analyzer) owned(ctx context.Context, contractID, userID string) (*model.ContractRecord, error) {
	rec, err := a.deps.Repo.GetContract(ctx, contractID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	if rec.UserID != userID {
		return nil, ErrContractNotFound
	}
	return rec, nil
}

func (a *Analyzer) removeObject(ctx context.Context, key string) {
	if a.deps.Storage == nil || key == "" {
		return
	}
	if err := a.deps.Storage.Delete(durable(ctx), key); err != nil {
		logger.Warn(ctx, "failed to delete stored file", "key", key, "error", err)
	}
}

func (a *Analyzer) validateUpload(up Upload) error {
	if len(up.Data) == 0 {
		return ErrEmptyUpload
	}
	if a.deps.MaxUploadBytes > 0 && int64(len(up.Data)) > a.deps.MaxUploadBytes {
		return ErrUploadTooLarge
	}
	if _, err := DetectType(up.MIMEType, up.FileName); err != nil {
		return ErrUnsupportedType
	}
	return nil
}

func titleFor(up Upload) string {
	if t := strings.TrimSpace(up.Title); t != "" {
		return t
	}
	base := filepath.Base(up.FileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// durable detaches writes from request cancellation so a started write is
// not abandoned halfway through the lifecycle.
func durable(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
