package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AnTengye/contractrisk/model"
)

const fallbackBaseScore = 20

// DocumentInfo describes the document being analyzed
type DocumentInfo struct {
	Title      string
	WordCount  int
	PageCount  int
	AnalyzedAt time.Time
}

type clauseRule struct {
	category       string
	title          string
	pattern        *regexp.Regexp
	penalty        int
	severity       string
	recommendation string
}

var clauseRules = []clauseRule{
	{
		category:       "payment_terms",
		title:          "Payment Terms",
		pattern:        regexp.MustCompile(`(?i)\b(payment|invoice|fees?|compensation|remuneration|price)\b`),
		penalty:        30,
		severity:       "high",
		recommendation: "Add explicit payment terms covering amounts, due dates, invoicing and late payment consequences.",
	},
	{
		category:       "termination",
		title:          "Termination",
		pattern:        regexp.MustCompile(`(?i)\b(terminat(e|es|ed|ion)|cancel(lation)?|expir(y|ation|es))\b`),
		penalty:        25,
		severity:       "high",
		recommendation: "Define termination rights, notice periods and the obligations that survive termination.",
	},
	{
		category:       "liability",
		title:          "Liability",
		pattern:        regexp.MustCompile(`(?i)\b(liabilit(y|ies)|liable|indemnif(y|ication|ies)|damages)\b`),
		penalty:        25,
		severity:       "high",
		recommendation: "Include a limitation of liability and indemnification clause that caps exposure for both parties.",
	},
	{
		category:       "governing_law",
		title:          "Governing Law",
		pattern:        regexp.MustCompile(`(?i)\b(governing\s+law|governed\s+by|jurisdiction|venue)\b`),
		penalty:        15,
		severity:       "medium",
		recommendation: "Specify the governing law and the courts or arbitration forum for disputes.",
	},
	{
		category:       "notice",
		title:          "Notice Provisions",
		pattern:        regexp.MustCompile(`(?i)\b(notices?\s+(shall|must|will|to|under)|written\s+notice|notify|notification)\b`),
		penalty:        10,
		severity:       "medium",
		recommendation: "State how and where formal notices must be delivered and when they take effect.",
	},
	{
		category:       "warranties",
		title:          "Warranties",
		pattern:        regexp.MustCompile(`(?i)\b(warrant(y|ies|s)?|represent(s|ations)?\s+and\s+warrant|guarantee[sd]?)\b`),
		penalty:        10,
		severity:       "medium",
		recommendation: "Add representations and warranties with a defined warranty period and remedies.",
	},
}

// SafetyRating maps a score onto the four-level safety scale.
func SafetyRating(score float64) string {
	switch {
	case score < 40:
		return "Safe"
	case score < 60:
		return "Moderate"
	case score < 80:
		return "Risky"
	default:
		return "Dangerous"
	}
}

// RiskLabel maps a score onto the risk label scale. The thresholds differ
// from SafetyRating.
func RiskLabel(score float64) string {
	switch {
	case score < 40:
		return "low"
	case score < 70:
		return "medium"
	case score < 90:
		return "high"
	default:
		return "critical"
	}
}

func ComplexityLevel(wordCount int) string {
	switch {
	case wordCount < 500:
		return "Simple"
	case wordCount < 1500:
		return "Standard"
	default:
		return "Complex"
	}
}

// FallbackAnalyzer is the rule-based analyzer used whenever the model path
// does not produce a valid result. It never fails and makes no external calls.
type FallbackAnalyzer struct{}

func NewFallbackAnalyzer() *FallbackAnalyzer {
	return &FallbackAnalyzer{}
}

type clauseMatch struct {
	rule    clauseRule
	found   bool
	excerpt string
}

func (f *FallbackAnalyzer) Analyze(text string, info DocumentInfo) *model.AnalysisResult {
	matches := make([]clauseMatch, len(clauseRules))
	score := fallbackBaseScore
	var high, medium int
	for i, rule := range clauseRules {
		loc := rule.pattern.FindStringIndex(text)
		matches[i] = clauseMatch{rule: rule, found: loc != nil}
		if loc != nil {
			matches[i].excerpt = excerptAround(text, loc[0], loc[1])
			continue
		}
		score += rule.penalty
		if rule.severity == "high" {
			high++
		} else {
			medium++
		}
	}
	score = clamp(score, 0, 100)

	s := float64(score)
	safety := SafetyRating(s)
	label := RiskLabel(s)
	missing := high + medium
	found := len(clauseRules) - missing

	result := &model.AnalysisResult{
		Metadata: model.AnalysisMetadata{
			ContractName:    info.Title,
			ContractType:    "General Agreement",
			WordCount:       info.WordCount,
			PageCount:       info.PageCount,
			ComplexityLevel: ComplexityLevel(info.WordCount),
		},
		ExecutiveSummary: model.ExecutiveSummary{
			Overview: fmt.Sprintf("Automated review found %d of %d standard clause categories; %d missing.",
				found, len(clauseRules), missing),
			SafetyRating: safety,
			KeyMetrics: model.KeyMetrics{
				RiskScore:      s,
				RiskLevel:      label,
				CriticalIssues: high,
				MissingClauses: missing,
				ClausesFound:   found,
			},
			TopConcerns:    []string{},
			Recommendation: overallRecommendation(safety),
		},
		RiskAssessment: model.RiskAssessment{
			OverallScore: s,
			RiskLevel:    label,
			Severity:     model.SeverityBreakdown{High: high, Medium: medium, Low: found},
		},
		ClauseAnalysis: model.ClauseAnalysis{
			PresentClauses:     []model.ClauseFinding{},
			MissingClauses:     []model.MissingClause{},
			ProblematicClauses: []model.ClauseFinding{},
		},
		LegalInsights: model.LegalInsights{
			KeyObligations:    []string{},
			Recommendations:   []model.Recommendation{},
			NegotiationPoints: []string{},
			ComplianceNotes: []string{
				"This analysis was generated by keyword matching and should be confirmed by legal counsel.",
			},
		},
	}
	if !info.AnalyzedAt.IsZero() {
		result.Metadata.AnalyzedAt = info.AnalyzedAt.UTC().Format(time.RFC3339)
	}

	for _, m := range matches {
		r := m.rule
		catScore := 0.0
		level := "low"
		desc := r.title + " clause present."
		if m.found {
			result.ClauseAnalysis.PresentClauses = append(result.ClauseAnalysis.PresentClauses, model.ClauseFinding{
				Category:   r.category,
				Title:      r.title,
				Excerpt:    m.excerpt,
				Assessment: r.title + " language detected.",
				Severity:   "low",
			})
			result.LegalInsights.KeyObligations = append(result.LegalInsights.KeyObligations,
				"Review the obligations set out in the "+strings.ToLower(r.title)+" clause.")
		} else {
			catScore = float64(r.penalty * 100 / 30)
			if catScore > 100 {
				catScore = 100
			}
			level = r.severity
			desc = r.title + " clause not found."
			result.ClauseAnalysis.MissingClauses = append(result.ClauseAnalysis.MissingClauses, model.MissingClause{
				Category:       r.category,
				Title:          r.title,
				Severity:       r.severity,
				Recommendation: r.recommendation,
			})
			result.ExecutiveSummary.TopConcerns = append(result.ExecutiveSummary.TopConcerns,
				"Missing "+strings.ToLower(r.title)+" clause")
			result.LegalInsights.Recommendations = append(result.LegalInsights.Recommendations, model.Recommendation{
				Priority:    r.severity,
				Title:       "Add " + strings.ToLower(r.title) + " clause",
				Description: r.recommendation,
			})
			result.LegalInsights.NegotiationPoints = append(result.LegalInsights.NegotiationPoints,
				"Negotiate "+strings.ToLower(r.title)+" terms before signing.")
		}
		result.RiskAssessment.Categories = append(result.RiskAssessment.Categories, model.RiskCategory{
			Name:        r.title,
			Score:       catScore,
			Level:       level,
			Description: desc,
		})
		result.ExportData.ChartData.CategoryScores = append(result.ExportData.ChartData.CategoryScores,
			model.ChartPoint{Label: r.title, Value: catScore})
	}

	result.ExportData.ChartData.RiskDistribution = []model.ChartPoint{
		{Label: "high", Value: float64(high)},
		{Label: "medium", Value: float64(medium)},
		{Label: "low", Value: float64(found)},
	}
	result.ExportData.SummaryTable = []model.SummaryRow{
		{Label: "Risk score", Value: fmt.Sprintf("%d", score)},
		{Label: "Safety rating", Value: safety},
		{Label: "Risk level", Value: label},
		{Label: "Clauses found", Value: fmt.Sprintf("%d/%d", found, len(clauseRules))},
		{Label: "Complexity", Value: result.Metadata.ComplexityLevel},
	}
	return result
}

func overallRecommendation(safety string) string {
	switch safety {
	case "Safe":
		return "The contract covers the standard clause categories. A routine legal review is sufficient."
	case "Moderate":
		return "Some standard protections are missing. Address the listed gaps before signing."
	case "Risky":
		return "Several key protections are missing. Negotiate the listed clauses before signing."
	default:
		return "Critical protections are missing. Do not sign without a full legal review."
	}
}

const excerptRadius = 80

func excerptAround(text string, start, end int) string {
	from := start - excerptRadius
	if from < 0 {
		from = 0
	}
	to := end + excerptRadius
	if to > len(text) {
		to = len(text)
	}
	for from > 0 && !isRuneStart(text[from]) {
		from--
	}
	for to < len(text) && !isRuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text[from:to]), " "))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
