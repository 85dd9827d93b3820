package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleResult(score float64, safety string) *AnalysisResult {
	r := &AnalysisResult{}
	r.ExecutiveSummary.SafetyRating = safety
	r.ExecutiveSummary.KeyMetrics.RiskScore = score
	r.ExecutiveSummary.Recommendation = "Review before signing"
	r.ClauseAnalysis.MissingClauses = []MissingClause{
		{Category: "payment_terms", Title: "Payment Terms", Severity: "high", Recommendation: "Add a payment schedule"},
		{Category: "notice", Title: "Notice Provisions", Severity: "medium", Recommendation: "Add notice addresses"},
	}
	r.ClauseAnalysis.ProblematicClauses = []ClauseFinding{
		{Title: "Unlimited indemnity", Assessment: "Exposure is uncapped", Severity: "critical"},
		{Title: "Auto renewal", Assessment: "Renews silently", Severity: "low"},
	}
	r.RiskAssessment.Categories = []RiskCategory{{Name: "Financial", Score: 70, Level: "high", Description: "Payment gaps"}}
	return r
}

func TestLegacyRiskLevel(t *testing.T) {
	tests := []struct {
		score  float64
		safety string
		want   string
	}{
		{80, "", LegacyCritical},
		{10, "Dangerous", LegacyCritical},
		{79, "", LegacyHigh},
		{60, "Safe", LegacyHigh},
		{20, "Risky", LegacyHigh},
		{59.9, "", LegacyMedium},
		{0, "Moderate", LegacyMedium},
		{39, "Safe", LegacyLow},
		{0, "", LegacyLow},
	}

	for _, tt := range tests {
		if got := LegacyRiskLevel(tt.score, tt.safety); got != tt.want {
			t.Errorf("LegacyRiskLevel(%v, %q): expected %s, got %s", tt.score, tt.safety, tt.want, got)
		}
	}
}

func TestToLegacy(t *testing.T) {
	l := ToLegacy(sampleResult(65, "Risky"))

	if l.OverallRiskLevel != LegacyHigh {
		t.Errorf("Expected High, got %s", l.OverallRiskLevel)
	}
	if l.RiskScore != 65 {
		t.Errorf("Expected riskScore 65, got %v", l.RiskScore)
	}
	if len(l.MissingClauses) != 2 || l.MissingClauses[0] != "Payment Terms" {
		t.Errorf("Unexpected missing clauses: %v", l.MissingClauses)
	}
	// one critical problematic clause plus one high severity missing clause
	if len(l.CriticalIssues) != 2 {
		t.Errorf("Expected 2 critical issues, got %d", len(l.CriticalIssues))
	}
	if len(l.OverallRecommendations) != 1 || l.OverallRecommendations[0] != "Review before signing" {
		t.Errorf("Unexpected recommendations: %v", l.OverallRecommendations)
	}
	if len(l.Sections) != 1 || l.Sections[0].Name != "Financial" {
		t.Errorf("Unexpected sections: %v", l.Sections)
	}

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	for _, key := range []string{"overall_risk_level", "riskScore", "criticalIssues", "missingClauses", "overallRecommendations", "sections", "chart_data"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("Expected key %s in legacy JSON", key)
		}
	}
}

func TestToLegacyNil(t *testing.T) {
	l := ToLegacy(nil)
	if l.OverallRiskLevel != LegacyLow {
		t.Errorf("Expected Low for nil analysis, got %s", l.OverallRiskLevel)
	}
}

func TestDecodePayloadCurrent(t *testing.T) {
	raw, err := EncodePayload(sampleResult(42, "Moderate"))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if !strings.Contains(string(raw), `"schema_version":2`) {
		t.Errorf("Expected schema version tag, got %s", raw)
	}

	r, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if r.RiskScore() != 42 {
		t.Errorf("Expected risk score 42, got %v", r.RiskScore())
	}
}

func TestDecodePayloadUntaggedWithLegacyDuplicates(t *testing.T) {
	raw := []byte(`{
		"metadata": {"contract_name": "NDA"},
		"executive_summary": {"safety_rating": "Risky", "key_metrics": {"risk_score": 72}},
		"risk_assessment": {}, "clause_analysis": {"missing_clauses": []},
		"legal_insights": {}, "export_data": {},
		"overall_risk_level": "High", "riskScore": 72
	}`)

	r, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if r.Metadata.ContractName != "NDA" {
		t.Errorf("Expected contract name NDA, got %s", r.Metadata.ContractName)
	}
	if r.RiskScore() != 72 {
		t.Errorf("Expected risk score 72, got %v", r.RiskScore())
	}
}

func TestDecodePayloadPureLegacy(t *testing.T) {
	raw := []byte(`{"overall_risk_level":"Critical","riskScore":88,"missingClauses":["Warranties"],"overallRecommendations":["Renegotiate"],"criticalIssues":[{"title":"Liability","severity":"high"}]}`)

	r, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if r.RiskScore() != 88 {
		t.Errorf("Expected 88, got %v", r.RiskScore())
	}
	if len(r.ClauseAnalysis.MissingClauses) != 1 || r.ClauseAnalysis.MissingClauses[0].Title != "Warranties" {
		t.Errorf("Unexpected missing clauses: %v", r.ClauseAnalysis.MissingClauses)
	}
	if r.ExecutiveSummary.Recommendation != "Renegotiate" {
		t.Errorf("Expected recommendation to be lifted, got %q", r.ExecutiveSummary.Recommendation)
	}
	if got := ToLegacy(r).OverallRiskLevel; got != LegacyCritical {
		t.Errorf("Expected Critical after round trip, got %s", got)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	if _, err := DecodePayload(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Expected ErrEmptyPayload, got %v", err)
	}
	if _, err := DecodePayload([]byte(`{"schema_version": 9}`)); !errors.Is(err, ErrUnknownSchemaVersion) {
		t.Errorf("Expected ErrUnknownSchemaVersion, got %v", err)
	}
	if _, err := DecodePayload([]byte(`{"foo": 1}`)); !errors.Is(err, ErrUnrecognizedPayload) {
		t.Errorf("Expected ErrUnrecognizedPayload, got %v", err)
	}
	if _, err := DecodePayload([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
