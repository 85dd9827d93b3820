package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/AnTengye/contractrisk/middleware"
	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ContractHandler struct {
	analyzer       *service.Analyzer
	maxUploadBytes int64
}

func NewContractHandler(analyzer *service.Analyzer, maxUploadBytes int64) *ContractHandler {
	return &ContractHandler{analyzer: analyzer, maxUploadBytes: maxUploadBytes}
}

// Upload analyzes an uploaded contract and returns the completed analysis
func (h *ContractHandler) Upload(c *gin.Context) {
	userID := middleware.GetUserID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		respondError(c, service.ErrUploadTooLarge)
		return
	}
	reader := io.Reader(file)
	if h.maxUploadBytes > 0 {
		// one extra byte lets the analyzer see an oversized body
		reader = io.LimitReader(file, h.maxUploadBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	out, err := h.analyzer.Analyze(c.Request.Context(), service.Upload{
		UserID:   userID,
		Title:    c.PostForm("title"),
		FileName: header.Filename,
		MIMEType: uploadContentType(header.Header.Get("Content-Type"), header.Filename),
		Data:     data,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract": out.Contract,
		"analysis": out.Analysis,
	})
}

// uploadContentType trusts the declared type unless it is generic, in which
// case the extension decides.
func uploadContentType(declared, fileName string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return service.MIMEPDF
	case ".docx":
		return service.MIMEDOCX
	}
	return declared
}

// List returns the contracts of the current user, optionally by status
func (h *ContractHandler) List(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	contracts, total, err := h.analyzer.List(c.Request.Context(), middleware.GetUserID(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	if contracts == nil {
		contracts = []*model.ContractRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"contracts": contracts, "total": total})
}

// Get returns a single contract record
func (h *ContractHandler) Get(c *gin.Context) {
	rec, err := h.analyzer.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetStatus returns the processing status of a contract
func (h *ContractHandler) GetStatus(c *gin.Context) {
	rec, err := h.analyzer.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        rec.ID,
		"status":    rec.Status,
		"error_msg": rec.ErrorMsg,
	})
}

// GetAnalysis returns the current analysis. format=legacy selects the older
// flat shape.
func (h *ContractHandler) GetAnalysis(c *gin.Context) {
	_, result, err := h.analyzer.Result(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	switch c.DefaultQuery("format", "current") {
	case "current":
		c.JSON(http.StatusOK, result)
	case "legacy":
		c.JSON(http.StatusOK, model.ToLegacy(result))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown format"})
	}
}

// Export returns the current analysis as an XLSX workbook
func (h *ContractHandler) Export(c *gin.Context) {
	rec, result, err := h.analyzer.Result(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := service.ExportXLSX(rec, result)
	if err != nil {
		logger.Error(c.Request.Context(), "export failed", "contract_id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export analysis"})
		return
	}

	name := strings.TrimSuffix(rec.FileName, filepath.Ext(rec.FileName)) + "-analysis.xlsx"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// Rerun analyzes an existing contract again
func (h *ContractHandler) Rerun(c *gin.Context) {
	out, err := h.analyzer.Rerun(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract": out.Contract,
		"analysis": out.Analysis,
	})
}

// Delete deletes a contract
func (h *ContractHandler) Delete(c *gin.Context) {
	if err := h.analyzer.Delete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// respondError maps service errors onto HTTP responses. Details of internal
// failures stay in the logs.
func respondError(c *gin.Context, err error) {
	var appErr *service.AppError
	if !errors.As(err, &appErr) {
		logger.Error(c.Request.Context(), "request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case service.KindValidation:
		switch {
		case errors.Is(err, service.ErrContractNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrContractBusy):
			status = http.StatusConflict
		case errors.Is(err, service.ErrUploadTooLarge):
			status = http.StatusRequestEntityTooLarge
		default:
			status = http.StatusBadRequest
		}
	case service.KindExtraction:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "code", appErr.Code, "error", err)
	}
	c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
}
