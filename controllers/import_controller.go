package controllers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/importer"
	"github.com/excel-pros/csm-backend/models"
	"github.com/excel-pros/csm-backend/repository"
)

// ImportController accepts spreadsheet uploads and exposes job status. The
// upload only stages rows; the pipeline picks them up on its next pass.
type ImportController struct {
	repo     *repository.ImportRepo
	pipeline *importer.Pipeline
	log      *zap.Logger
}

func NewImportController(repo *repository.ImportRepo, pipeline *importer.Pipeline, log *zap.Logger) *ImportController {
	return &ImportController{repo: repo, pipeline: pipeline, log: log}
}

// Upload handles POST /api/import: a multipart form with a "file" part (.xlsx
// or .csv) and an optional "columnMapping" part holding a JSON object that
// maps source column headers to logical field names.
func (ic *ImportController) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing file"})
		return
	}

	var mapping map[string]string
	if raw := c.PostForm("columnMapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid columnMapping"})
			return
		}
	}

	records, err := parseSpreadsheet(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "File contains no data rows"})
		return
	}

	ctx := c.Request.Context()
	jobID, err := ic.repo.CreateJob(ctx, models.ImportJob{
		FileName:      fileHeader.Filename,
		ColumnMapping: mapping,
	})
	if err != nil {
		ic.log.Error("Failed to create import job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error creating import job"})
		return
	}
	if err := ic.repo.InsertRows(ctx, jobID, records); err != nil {
		ic.log.Error("Failed to insert import rows", zap.String("importDataId", jobID.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error staging import rows"})
		return
	}

	ic.log.Info("Staged import file",
		zap.String("importDataId", jobID.Hex()),
		zap.String("fileName", fileHeader.Filename),
		zap.Int("rows", len(records)),
	)

	// Kick a pass immediately instead of waiting for the next tick. The
	// single-flight guard makes this safe.
	go func() {
		if err := ic.pipeline.Run(context.Background()); err != nil {
			ic.log.Error("Import pass failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"importDataId": jobID.Hex(),
		"rowCount":     len(records),
	})
}

// Status handles GET /api/import/:id/status.
func (ic *ImportController) Status(c *gin.Context) {
	jobID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid import ID"})
		return
	}

	ctx := c.Request.Context()
	job, err := ic.repo.Job(ctx, jobID)
	if err != nil {
		ic.log.Error("Failed to load import job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Import not found"})
		return
	}

	counts, err := ic.repo.StatusCounts(ctx, jobID)
	if err != nil {
		ic.log.Error("Failed to count import rows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"importDataId":     job.ID.Hex(),
		"fileName":         job.FileName,
		"processingStatus": job.ProcessingStatus,
		"counts": gin.H{
			"total":                 counts.Total,
			"success":               counts.Success,
			"failure":               counts.Failure,
			"pending":               counts.Pending,
			"processing":            counts.Processing,
			"pendingReconciliation": counts.PendingReconciliation,
		},
	})
}

// Rows handles GET /api/import/:id/rows with an optional "status" filter.
func (ic *ImportController) Rows(c *gin.Context) {
	jobID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid import ID"})
		return
	}

	var rows []models.ImportRow
	if status := c.Query("status"); status != "" {
		rows, err = ic.repo.RowsByStatus(c.Request.Context(), jobID, models.RowStatus(status))
	} else {
		rows, err = ic.repo.JobRows(c.Request.Context(), jobID)
	}
	if err != nil {
		ic.log.Error("Failed to load import rows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

// parseSpreadsheet reads the uploaded file into records keyed by the header
// row. Cells are kept as strings; the pipeline's column mapper handles type
// interpretation.
func parseSpreadsheet(fileHeader *multipart.FileHeader) ([]map[string]interface{}, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(fileHeader.Filename)) {
	case ".xlsx":
		return parseXLSX(file)
	case ".csv":
		return parseCSV(file)
	}
	return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(fileHeader.Filename))
}

func parseXLSX(file multipart.File) ([]map[string]interface{}, error) {
	workbook, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return recordsFromRows(rows), nil
}

func parseCSV(file multipart.File) ([]map[string]interface{}, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return recordsFromRows(rows), nil
}

func recordsFromRows(rows [][]string) []map[string]interface{} {
	if len(rows) < 2 {
		return nil
	}
	headers := rows[0]

	records := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(headers))
		empty := true
		for i, header := range headers {
			header = strings.TrimSpace(header)
			if header == "" || i >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[i])
			record[header] = value
			if value != "" {
				empty = false
			}
		}
		if !empty {
			records = append(records, record)
		}
	}
	return records
}
