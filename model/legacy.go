package model

import "strings"

// LegacyAnalysis is the flat analysis shape served to older clients
type LegacyAnalysis struct {
	OverallRiskLevel       string          `json:"overall_risk_level"`
	RiskScore              float64         `json:"riskScore"`
	CriticalIssues         []LegacyIssue   `json:"criticalIssues"`
	MissingClauses         []string        `json:"missingClauses"`
	OverallRecommendations []string        `json:"overallRecommendations"`
	Sections               []LegacySection `json:"sections"`
	ChartData              LegacyChartData `json:"chart_data"`
}

type LegacyIssue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type LegacySection struct {
	Name      string  `json:"name"`
	RiskLevel string  `json:"riskLevel"`
	Score     float64 `json:"score"`
	Summary   string  `json:"summary"`
}

type LegacyChartData struct {
	RiskDistribution []ChartPoint `json:"riskDistribution"`
	CategoryScores   []ChartPoint `json:"categoryScores"`
}

// Overall risk levels of the legacy shape
const (
	LegacyCritical = "Critical"
	LegacyHigh     = "High"
	LegacyMedium   = "Medium"
	LegacyLow      = "Low"
)

// LegacyRiskLevel buckets a score into the legacy overall level. The safety
// rating can raise the level independently of the score.
func LegacyRiskLevel(score float64, safetyRating string) string {
	switch {
	case score >= 80 || strings.EqualFold(safetyRating, "Dangerous"):
		return LegacyCritical
	case score >= 60 || strings.EqualFold(safetyRating, "Risky"):
		return LegacyHigh
	case score >= 40 || strings.EqualFold(safetyRating, "Moderate"):
		return LegacyMedium
	default:
		return LegacyLow
	}
}

// ToLegacy maps an analysis onto the legacy shape.
func ToLegacy(r *AnalysisResult) LegacyAnalysis {
	if r == nil {
		return LegacyAnalysis{OverallRiskLevel: LegacyLow}
	}
	score := r.ExecutiveSummary.KeyMetrics.RiskScore
	out := LegacyAnalysis{
		OverallRiskLevel:       LegacyRiskLevel(score, r.ExecutiveSummary.SafetyRating),
		RiskScore:              score,
		CriticalIssues:         []LegacyIssue{},
		MissingClauses:         []string{},
		OverallRecommendations: []string{},
		Sections:               []LegacySection{},
		ChartData: LegacyChartData{
			RiskDistribution: nonNilPoints(r.ExportData.ChartData.RiskDistribution),
			CategoryScores:   nonNilPoints(r.ExportData.ChartData.CategoryScores),
		},
	}

	for _, c := range r.ClauseAnalysis.ProblematicClauses {
		if isSevere(c.Severity) {
			out.CriticalIssues = append(out.CriticalIssues, LegacyIssue{
				Title:       c.Title,
				Description: c.Assessment,
				Severity:    c.Severity,
			})
		}
	}
	for _, m := range r.ClauseAnalysis.MissingClauses {
		out.MissingClauses = append(out.MissingClauses, m.Title)
		if isSevere(m.Severity) {
			out.CriticalIssues = append(out.CriticalIssues, LegacyIssue{
				Title:       "Missing " + m.Title,
				Description: m.Recommendation,
				Severity:    m.Severity,
			})
		}
	}

	for _, rec := range r.LegalInsights.Recommendations {
		text := rec.Title
		if rec.Description != "" {
			text = rec.Title + ": " + rec.Description
		}
		out.OverallRecommendations = append(out.OverallRecommendations, text)
	}
	if len(out.OverallRecommendations) == 0 && r.ExecutiveSummary.Recommendation != "" {
		out.OverallRecommendations = append(out.OverallRecommendations, r.ExecutiveSummary.Recommendation)
	}

	for _, cat := range r.RiskAssessment.Categories {
		out.Sections = append(out.Sections, LegacySection{
			Name:      cat.Name,
			RiskLevel: cat.Level,
			Score:     cat.Score,
			Summary:   cat.Description,
		})
	}
	return out
}

// FromLegacy lifts a legacy payload into the current shape. Sections that
// the legacy shape never carried are left empty.
func FromLegacy(l LegacyAnalysis) *AnalysisResult {
	r := &AnalysisResult{}
	r.ExecutiveSummary.KeyMetrics.RiskScore = l.RiskScore
	r.ExecutiveSummary.KeyMetrics.RiskLevel = strings.ToLower(l.OverallRiskLevel)
	r.ExecutiveSummary.KeyMetrics.CriticalIssues = len(l.CriticalIssues)
	r.ExecutiveSummary.KeyMetrics.MissingClauses = len(l.MissingClauses)
	r.RiskAssessment.OverallScore = l.RiskScore
	r.RiskAssessment.RiskLevel = strings.ToLower(l.OverallRiskLevel)
	r.ClauseAnalysis.MissingClauses = []MissingClause{}
	r.ClauseAnalysis.PresentClauses = []ClauseFinding{}
	r.ClauseAnalysis.ProblematicClauses = []ClauseFinding{}

	for _, issue := range l.CriticalIssues {
		r.ExecutiveSummary.TopConcerns = append(r.ExecutiveSummary.TopConcerns, issue.Title)
		r.ClauseAnalysis.ProblematicClauses = append(r.ClauseAnalysis.ProblematicClauses, ClauseFinding{
			Title:      issue.Title,
			Assessment: issue.Description,
			Severity:   issue.Severity,
		})
	}
	for _, title := range l.MissingClauses {
		r.ClauseAnalysis.MissingClauses = append(r.ClauseAnalysis.MissingClauses, MissingClause{Title: title})
	}
	for _, rec := range l.OverallRecommendations {
		r.LegalInsights.Recommendations = append(r.LegalInsights.Recommendations, Recommendation{Title: rec})
	}
	if len(l.OverallRecommendations) > 0 {
		r.ExecutiveSummary.Recommendation = l.OverallRecommendations[0]
	}
	for _, s := range l.Sections {
		r.RiskAssessment.Categories = append(r.RiskAssessment.Categories, RiskCategory{
			Name:        s.Name,
			Score:       s.Score,
			Level:       s.RiskLevel,
			Description: s.Summary,
		})
	}
	r.ExportData.ChartData.RiskDistribution = l.ChartData.RiskDistribution
	r.ExportData.ChartData.CategoryScores = l.ChartData.CategoryScores
	return r
}

func isSevere(severity string) bool {
	s := strings.ToLower(severity)
	return s == "high" || s == "critical"
}

func nonNilPoints(p []ChartPoint) []ChartPoint {
	if p == nil {
		return []ChartPoint{}
	}
	return p
}
