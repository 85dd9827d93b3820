package service

import (
	"fmt"
	"strings"

	"github.com/AnTengye/contractrisk/model"
)

const analysisSystemPrompt = `You are a contract risk analyst. Review the contract supplied by the user and
return a JSON object with exactly these top-level sections:

{
  "metadata": {"contract_name": string, "contract_type": string, "analyzed_at": string,
               "word_count": number, "page_count": number, "complexity_level": "Simple"|"Standard"|"Complex"},
  "executive_summary": {"overview": string, "safety_rating": "Safe"|"Moderate"|"Risky"|"Dangerous",
               "key_metrics": {"risk_score": number 0-100, "risk_level": "low"|"medium"|"high"|"critical",
                               "critical_issues": number, "missing_clauses": number, "clauses_found": number},
               "top_concerns": [string], "recommendation": string},
  "risk_assessment": {"overall_score": number, "risk_level": string,
               "severity_breakdown": {"high": number, "medium": number, "low": number},
               "categories": [{"name": string, "score": number, "level": string, "description": string}]},
  "clause_analysis": {"present_clauses": [{"category": string, "title": string, "excerpt": string, "assessment": string, "severity": string}],
               "missing_clauses": [{"category": string, "title": string, "severity": string, "recommendation": string}],
               "problematic_clauses": [{"category": string, "title": string, "excerpt": string, "assessment": string, "severity": string}]},
  "legal_insights": {"key_obligations": [string], "recommendations": [{"priority": string, "title": string, "description": string}],
               "negotiation_points": [string], "compliance_notes": [string]},
  "export_data": {"chart_data": {"risk_distribution": [{"label": string, "value": number}],
                                 "category_scores": [{"label": string, "value": number}]},
                  "summary_table": [{"label": string, "value": string}]}
}

A higher risk_score means a riskier contract for the party reviewing it.`

// buildAnalysisMessages renders the prompt for one analysis. Text beyond
// maxChars is cut so the request stays within provider limits.
func buildAnalysisMessages(req model.AnalysisRequest, info DocumentInfo, maxChars int) []Message {
	text := req.Text
	truncated := false
	if maxChars > 0 && len(text) > maxChars {
		text = truncateUTF8(text, maxChars)
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contract title: %s\n", req.Title)
	fmt.Fprintf(&b, "Word count: %d, page count: %d\n", info.WordCount, info.PageCount)
	if truncated {
		b.WriteString("Note: the contract text below was truncated.\n")
	}
	b.WriteString("\n--- CONTRACT START ---\n")
	b.WriteString(text)
	b.WriteString("\n--- CONTRACT END ---")

	return []Message{
		{Role: RoleSystem, Content: analysisSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	}
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
