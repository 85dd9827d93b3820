package handler

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const testContract = "The Client shall pay each invoice within 30 days. " +
	"Either party may terminate this Agreement on 60 days written notice. " +
	"The Supplier's liability is limited to the fees paid. " +
	"This Agreement is governed by the laws of England. " +
	"All notices must be in writing. " +
	"The Supplier warrants that the services will be performed with reasonable care."

type testEnv struct {
	router *gin.Engine
	store  *service.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := service.NewMemoryStore(0)
	seq := 0
	analyzer, err := service.NewAnalyzer(service.AnalyzerDeps{
		Extractor: service.NewExtractor(),
		Repo:      store,
		Now:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("c-%d", seq)
		},
		MaxUploadBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	h := NewContractHandler(analyzer, 1<<20)
	router := gin.New()
	api := router.Group("/api", func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
		c.Next()
	})
	api.POST("/contracts", h.Upload)
	api.GET("/contracts", h.List)
	api.GET("/contracts/:id", h.Get)
	api.GET("/contracts/:id/status", h.GetStatus)
	api.GET("/contracts/:id/analysis", h.GetAnalysis)
	api.GET("/contracts/:id/export", h.Export)
	api.POST("/contracts/:id/rerun", h.Rerun)
	api.DELETE("/contracts/:id", h.Delete)

	return &testEnv{router: router, store: store}
}

func (e *testEnv) do(method, path, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Test-User", user)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, user, fileName string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		fw.Write(data)
	}
	mw.WriteField("title", "Services Agreement")
	mw.Close()
	return e.do("POST", "/api/contracts", user, &body, mw.FormDataContentType())
}

func testDOCX(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("Failed to create docx part: %v", err)
	}
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`+
		`<w:body><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:body></w:document>`, text)
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close docx: %v", err)
	}
	return buf.Bytes()
}

type uploadResponse struct {
	Contract model.ContractRecord `json:"contract"`
	Analysis model.AnalysisResult `json:"analysis"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
}

func TestContractHandlerUpload(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "u1", "services.docx", testDOCX(t, testContract))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp uploadResponse
	decode(t, w, &resp)
	if resp.Contract.ID != "c-1" {
		t.Errorf("Expected contract id c-1, got %s", resp.Contract.ID)
	}
	if resp.Contract.Status != model.StatusCompleted {
		t.Errorf("Expected status completed, got %s", resp.Contract.Status)
	}
	if resp.Contract.Title != "Services Agreement" {
		t.Errorf("Expected title from form, got %s", resp.Contract.Title)
	}
	if resp.Analysis.ExecutiveSummary.SafetyRating != "Safe" {
		t.Errorf("Expected Safe rating, got %s", resp.Analysis.ExecutiveSummary.SafetyRating)
	}
	if env.store.Count() != 1 {
		t.Errorf("Expected 1 stored contract, got %d", env.store.Count())
	}
}

func TestContractHandlerUploadRejections(t *testing.T) {
	tests := []struct {
		name           string
		fileName       string
		data           []byte
		expectedStatus int
		expectedCode   string
	}{
		{"no file", "", nil, http.StatusBadRequest, ""},
		{"empty file", "empty.pdf", []byte{}, http.StatusBadRequest, "EmptyUpload"},
		{"unsupported type", "notes.txt", []byte("hello"), http.StatusBadRequest, "UnsupportedType"},
		{"too large", "big.pdf", bytes.Repeat([]byte("a"), 1<<20+10), http.StatusRequestEntityTooLarge, "UploadTooLarge"},
		{"corrupt docx", "broken.docx", []byte("not a zip"), http.StatusUnprocessableEntity, "InvalidFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.upload(t, "u1", tt.fileName, tt.data)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				var resp map[string]string
				decode(t, w, &resp)
				if resp["code"] != tt.expectedCode {
					t.Errorf("Expected code %s, got %s", tt.expectedCode, resp["code"])
				}
			}
			if env.store.Count() != 0 {
				t.Errorf("Expected no stored contract, got %d", env.store.Count())
			}
		})
	}
}

func TestContractHandlerListAndGet(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "u1", "a.docx", testDOCX(t, testContract))
	env.upload(t, "u1", "b.docx", testDOCX(t, "Payment is due on invoice."))
	env.upload(t, "u2", "c.docx", testDOCX(t, testContract))

	w := env.do("GET", "/api/contracts", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var list struct {
		Contracts []model.ContractRecord `json:"contracts"`
		Total     int                    `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 2 || len(list.Contracts) != 2 {
		t.Errorf("Expected 2 contracts for u1, got total=%d len=%d", list.Total, len(list.Contracts))
	}

	w = env.do("GET", "/api/contracts?status=failed", "u1", nil, "")
	decode(t, w, &list)
	if len(list.Contracts) != 0 {
		t.Errorf("Expected no failed contracts, got %d", len(list.Contracts))
	}

	w = env.do("GET", "/api/contracts?status=bogus", "u1", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad filter, got %d", w.Code)
	}

	w = env.do("GET", "/api/contracts/c-1", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var rec model.ContractRecord
	decode(t, w, &rec)
	if rec.FileName != "a.docx" {
		t.Errorf("Expected a.docx, got %s", rec.FileName)
	}

	// another user's contract looks missing
	w = env.do("GET", "/api/contracts/c-3", "u1", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = env.do("GET", "/api/contracts/c-1/status", "u1", nil, "")
	var status map[string]string
	decode(t, w, &status)
	if status["status"] != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", status["status"])
	}
}

func TestContractHandlerGetAnalysis(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "u1", "b.docx", testDOCX(t, "Payment is due on invoice."))

	w := env.do("GET", "/api/contracts/c-1/analysis", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var current model.AnalysisResult
	decode(t, w, &current)
	if got := current.ExecutiveSummary.KeyMetrics.RiskScore; got != 100 {
		t.Errorf("Expected risk score 100, got %v", got)
	}

	w = env.do("GET", "/api/contracts/c-1/analysis?format=legacy", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var legacy model.LegacyAnalysis
	decode(t, w, &legacy)
	if legacy.RiskScore != 100 {
		t.Errorf("Expected legacy risk score 100, got %v", legacy.RiskScore)
	}
	if legacy.OverallRiskLevel == "" {
		t.Error("Expected legacy risk level")
	}

	w = env.do("GET", "/api/contracts/c-1/analysis?format=xml", "u1", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown format, got %d", w.Code)
	}

	w = env.do("GET", "/api/contracts/missing/analysis", "u1", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestContractHandlerExport(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "u1", "services.docx", testDOCX(t, testContract))

	w := env.do("GET", "/api/contracts/c-1/export", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Expected xlsx content type, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "services-analysis.xlsx") {
		t.Errorf("Unexpected Content-Disposition %s", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Export is not a workbook: %v", err)
	}
	defer f.Close()
	if len(f.GetSheetList()) != 4 {
		t.Errorf("Expected 4 sheets, got %v", f.GetSheetList())
	}
}

func TestContractHandlerRerun(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "u1", "services.docx", testDOCX(t, testContract))

	w := env.do("POST", "/api/contracts/c-1/rerun", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	decode(t, w, &resp)
	if resp.Contract.Status != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", resp.Contract.Status)
	}
	if resp.Contract.AnalysisID == "" {
		t.Error("Expected analysis id after rerun")
	}

	w = env.do("POST", "/api/contracts/c-1/rerun", "u2", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for other user, got %d", w.Code)
	}
}

func TestContractHandlerBusy(t *testing.T) {
	env := newTestEnv(t)
	rec := &model.ContractRecord{
		Document: model.Document{ID: "busy", UserID: "u1", FileName: "x.pdf", ExtractedText: "text"},
		Status:   model.StatusProcessing,
	}
	if err := env.store.CreateContract(t.Context(), rec); err != nil {
		t.Fatalf("Failed to seed contract: %v", err)
	}

	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/contracts/busy/rerun"},
		{"GET", "/api/contracts/busy/analysis"},
		{"DELETE", "/api/contracts/busy"},
	} {
		w := env.do(tc.method, tc.path, "u1", nil, "")
		if w.Code != http.StatusConflict {
			t.Errorf("%s %s: expected status 409, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestContractHandlerDelete(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "u1", "services.docx", testDOCX(t, testContract))

	w := env.do("DELETE", "/api/contracts/c-1", "u2", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for other user, got %d", w.Code)
	}

	w = env.do("DELETE", "/api/contracts/c-1", "u1", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if env.store.Count() != 0 {
		t.Errorf("Expected empty store, got %d", env.store.Count())
	}

	w = env.do("GET", "/api/contracts/c-1", "u1", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestUploadContentType(t *testing.T) {
	tests := []struct {
		declared, fileName, want string
	}{
		{"application/pdf", "x.docx", "application/pdf"},
		{"application/octet-stream", "Lease.PDF", service.MIMEPDF},
		{"", "nda.docx", service.MIMEDOCX},
		{"", "notes.txt", ""},
	}
	for _, tt := range tests {
		if got := uploadContentType(tt.declared, tt.fileName); got != tt.want {
			t.Errorf("uploadContentType(%q, %q) = %q, want %q", tt.declared, tt.fileName, got, tt.want)
		}
	}
}
