package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentSchemaVersion tags every analysis payload written today.
// Version 1 payloads were untagged and carried legacy keys next to the
// current sections.
const CurrentSchemaVersion = 2

var (
	ErrEmptyPayload         = errors.New("empty analysis payload")
	ErrUnknownSchemaVersion = errors.New("unknown analysis schema version")
	ErrUnrecognizedPayload  = errors.New("unrecognized analysis payload")
)

// AnalysisPayload is the persisted envelope of an analysis
type AnalysisPayload struct {
	SchemaVersion int             `json:"schema_version"`
	Analysis      *AnalysisResult `json:"analysis"`
}

// EncodePayload wraps the analysis in a versioned envelope.
func EncodePayload(r *AnalysisResult) ([]byte, error) {
	if r == nil {
		return nil, ErrEmptyPayload
	}
	return json.Marshal(AnalysisPayload{SchemaVersion: CurrentSchemaVersion, Analysis: r})
}

// DecodePayload reads a stored payload of any known version and migrates it
// to the current shape. It has no side effects on the stored bytes.
func DecodePayload(raw []byte) (*AnalysisResult, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}

	if v, ok := fields["schema_version"]; ok {
		var version int
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("decode schema version: %w", err)
		}
		switch version {
		case CurrentSchemaVersion:
			var p AnalysisPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode analysis payload v%d: %w", version, err)
			}
			if p.Analysis == nil {
				return nil, ErrEmptyPayload
			}
			return p.Analysis, nil
		case 1:
			return migrateV1(raw, fields)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownSchemaVersion, version)
		}
	}
	return migrateV1(raw, fields)
}

func migrateV1(raw []byte, fields map[string]json.RawMessage) (*AnalysisResult, error) {
	if _, ok := fields["executive_summary"]; ok {
		var r AnalysisResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode analysis payload v1: %w", err)
		}
		return &r, nil
	}
	_, hasScore := fields["riskScore"]
	_, hasLevel := fields["overall_risk_level"]
	if hasScore || hasLevel {
		var l LegacyAnalysis
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode legacy analysis: %w", err)
		}
		return FromLegacy(l), nil
	}
	return nil, ErrUnrecognizedPayload
}
