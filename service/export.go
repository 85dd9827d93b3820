package service

import (
	"fmt"

	"github.com/AnTengye/contractrisk/model"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary         = "Summary"
	sheetCategories      = "Categories"
	sheetClauses         = "Clauses"
	sheetRecommendations = "Recommendations"
)

// ExportXLSX renders an analysis as a workbook with one sheet per section.
func ExportXLSX(rec *model.ContractRecord, r *model.AnalysisResult) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("xlsx export: no analysis")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	for _, name := range []string{sheetCategories, sheetClauses, sheetRecommendations} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("xlsx sheet %s: %w", name, err)
		}
	}

	km := r.ExecutiveSummary.KeyMetrics
	summary := [][]any{
		{"Field", "Value"},
		{"Contract", r.Metadata.ContractName},
		{"Contract type", r.Metadata.ContractType},
		{"Analyzed at", r.Metadata.AnalyzedAt},
		{"Safety rating", r.ExecutiveSummary.SafetyRating},
		{"Risk score", km.RiskScore},
		{"Risk level", km.RiskLevel},
		{"Critical issues", km.CriticalIssues},
		{"Missing clauses", km.MissingClauses},
		{"Clauses found", km.ClausesFound},
		{"Overview", r.ExecutiveSummary.Overview},
		{"Recommendation", r.ExecutiveSummary.Recommendation},
	}
	if rec != nil {
		summary = append(summary,
			[]any{"File name", rec.FileName},
			[]any{"Word count", rec.WordCount},
			[]any{"Page count", rec.PageCount},
		)
	}
	for _, row := range r.ExportData.SummaryTable {
		summary = append(summary, []any{row.Label, row.Value})
	}
	writeRows(f, sheetSummary, summary)
	_ = f.SetColWidth(sheetSummary, "A", "A", 22)
	_ = f.SetColWidth(sheetSummary, "B", "B", 80)

	categories := [][]any{{"Category", "Score", "Level", "Description"}}
	for _, c := range r.RiskAssessment.Categories {
		categories = append(categories, []any{c.Name, c.Score, c.Level, c.Description})
	}
	writeRows(f, sheetCategories, categories)
	_ = f.SetColWidth(sheetCategories, "A", "A", 24)
	_ = f.SetColWidth(sheetCategories, "D", "D", 60)

	clauses := [][]any{{"Status", "Category", "Title", "Severity", "Detail"}}
	for _, c := range r.ClauseAnalysis.PresentClauses {
		clauses = append(clauses, []any{"present", c.Category, c.Title, c.Severity, truncate(c.Excerpt, 300)})
	}
	for _, c := range r.ClauseAnalysis.ProblematicClauses {
		clauses = append(clauses, []any{"problematic", c.Category, c.Title, c.Severity, c.Assessment})
	}
	for _, c := range r.ClauseAnalysis.MissingClauses {
		clauses = append(clauses, []any{"missing", c.Category, c.Title, c.Severity, c.Recommendation})
	}
	writeRows(f, sheetClauses, clauses)
	_ = f.SetColWidth(sheetClauses, "B", "C", 22)
	_ = f.SetColWidth(sheetClauses, "E", "E", 80)

	recs := [][]any{{"Priority", "Title", "Description"}}
	for _, rc := range r.LegalInsights.Recommendations {
		recs = append(recs, []any{rc.Priority, rc.Title, rc.Description})
	}
	writeRows(f, sheetRecommendations, recs)
	_ = f.SetColWidth(sheetRecommendations, "B", "B", 32)
	_ = f.SetColWidth(sheetRecommendations, "C", "C", 80)

	idx, _ := f.GetSheetIndex(sheetSummary)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) {
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return truncateUTF8(s, n-3) + "..."
}
