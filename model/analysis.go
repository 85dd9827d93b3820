package model

// AnalysisResult is the structured risk analysis of a contract. Results from
// the language model and from the rule-based analyzer share this shape.
type AnalysisResult struct {
	Metadata         AnalysisMetadata `json:"metadata"`
	ExecutiveSummary ExecutiveSummary `json:"executive_summary"`
	RiskAssessment   RiskAssessment   `json:"risk_assessment"`
	ClauseAnalysis   ClauseAnalysis   `json:"clause_analysis"`
	LegalInsights    LegalInsights    `json:"legal_insights"`
	ExportData       ExportData       `json:"export_data"`
}

type AnalysisMetadata struct {
	ContractName    string `json:"contract_name"`
	ContractType    string `json:"contract_type"`
	AnalyzedAt      string `json:"analyzed_at"`
	WordCount       int    `json:"word_count"`
	PageCount       int    `json:"page_count"`
	ComplexityLevel string `json:"complexity_level"`
}

type ExecutiveSummary struct {
	Overview       string     `json:"overview"`
	SafetyRating   string     `json:"safety_rating"`
	KeyMetrics     KeyMetrics `json:"key_metrics"`
	TopConcerns    []string   `json:"top_concerns"`
	Recommendation string     `json:"recommendation"`
}

type KeyMetrics struct {
	RiskScore      float64 `json:"risk_score"`
	RiskLevel      string  `json:"risk_level"`
	CriticalIssues int     `json:"critical_issues"`
	MissingClauses int     `json:"missing_clauses"`
	ClausesFound   int     `json:"clauses_found"`
}

type RiskAssessment struct {
	OverallScore float64           `json:"overall_score"`
	RiskLevel    string            `json:"risk_level"`
	Severity     SeverityBreakdown `json:"severity_breakdown"`
	Categories   []RiskCategory    `json:"categories"`
}

type SeverityBreakdown struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type RiskCategory struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Description string  `json:"description"`
}

type ClauseAnalysis struct {
	PresentClauses     []ClauseFinding `json:"present_clauses"`
	MissingClauses     []MissingClause `json:"missing_clauses"`
	ProblematicClauses []ClauseFinding `json:"problematic_clauses"`
}

type ClauseFinding struct {
	Category   string `json:"category"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	Assessment string `json:"assessment"`
	Severity   string `json:"severity"`
}

type MissingClause struct {
	Category       string `json:"category"`
	Title          string `json:"title"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

type LegalInsights struct {
	KeyObligations    []string         `json:"key_obligations"`
	Recommendations   []Recommendation `json:"recommendations"`
	NegotiationPoints []string         `json:"negotiation_points"`
	ComplianceNotes   []string         `json:"compliance_notes"`
}

type Recommendation struct {
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ExportData struct {
	ChartData    ChartData    `json:"chart_data"`
	SummaryTable []SummaryRow `json:"summary_table"`
}

type ChartData struct {
	RiskDistribution []ChartPoint `json:"risk_distribution"`
	CategoryScores   []ChartPoint `json:"category_scores"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type SummaryRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// RiskScore returns the headline score of the analysis.
func (r *AnalysisResult) RiskScore() float64 {
	if r == nil {
		return 0
	}
	return r.ExecutiveSummary.KeyMetrics.RiskScore
}
