package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"catalog-service/internal/jobs"
	"catalog-service/internal/models"
)

// MaxImportFileSize caps the upload at 20MB.
const MaxImportFileSize = 20 << 20

// ImportTracker is the job tracker surface the HTTP layer needs.
type ImportTracker interface {
	Create(ctx context.Context, filename, filePath string) (*models.ImportJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	List(ctx context.Context, page, limit int) ([]models.ImportJob, int64, error)
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

// ImportQueue hands accepted jobs to the worker pool.
type ImportQueue interface {
	Enqueue(jobID uuid.UUID) error
}

type ImportHandler struct {
	tracker  ImportTracker
	queue    ImportQueue
	spoolDir string
	pager    Pager
	log      *logrus.Entry
}

func NewImportHandler(tracker ImportTracker, queue ImportQueue, spoolDir string, pager Pager, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		tracker:  tracker,
		queue:    queue,
		spoolDir: spoolDir,
		pager:    pager,
		log:      logger.WithField("component", "import-handler"),
	}
}

// SubmitImport accepts a price-list upload and queues it for asynchronous
// processing. Responds 202 with the job id; the file itself is only
// spooled here, never parsed.
// @Summary Import products from a price list
// @Tags imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX price list"
// @Success 202 {object} models.ImportSubmittedResponse
// @Router /products/import [post]
func (h *ImportHandler) SubmitImport(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_REQUIRED",
				Message: "Please upload a CSV or Excel file",
			},
		})
		return
	}
	defer file.Close()

	filename := header.Filename
	lower := strings.ToLower(filename)
	if !strings.HasSuffix(lower, ".csv") && !strings.HasSuffix(lower, ".xlsx") {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_FORMAT",
				Message: "Only CSV and XLSX files are supported",
			},
		})
		return
	}

	if header.Size > MaxImportFileSize {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_TOO_LARGE",
				Message: fmt.Sprintf("File exceeds the %dMB limit", MaxImportFileSize>>20),
			},
		})
		return
	}

	spoolPath, err := h.spoolFile(file, filename)
	if err != nil {
		h.log.WithError(err).Error("Failed to spool import file")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "SPOOL_FAILED",
				Message: "Failed to store the uploaded file",
			},
		})
		return
	}

	job, err := h.tracker.Create(c.Request.Context(), filename, spoolPath)
	if err != nil {
		h.log.WithError(err).Error("Failed to create import job")
		os.Remove(spoolPath)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "JOB_CREATE_FAILED",
				Message: "Failed to register the import job",
			},
		})
		return
	}

	if err := h.queue.Enqueue(job.ID); err != nil {
		// The job stays queued; the worker's recovery sweep will pick it
		// up if the queue comes back.
		h.log.WithError(err).WithField("job_id", job.ID).Error("Failed to enqueue import job")
	}

	c.JSON(http.StatusAccepted, models.ImportSubmittedResponse{
		Success: true,
		JobID:   job.ID,
		Status:  string(job.Status),
	})
}

// ListImportJobs returns recent import jobs, newest first.
// @Summary List import jobs
// @Tags imports
// @Produce json
// @Success 200 {object} models.ImportJobListResponse
// @Router /imports [get]
func (h *ImportHandler) ListImportJobs(c *gin.Context) {
	page, limit := h.pager.Parse(c)

	list, total, err := h.tracker.List(c.Request.Context(), page, limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list import jobs")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FETCH_FAILED",
				Message: "Failed to fetch import jobs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.ImportJobListResponse{
		Success:    true,
		Data:       list,
		Pagination: buildPagination(page, limit, total),
	})
}

// GetImportJob returns current status, counters, warnings and the row
// error log of one import job.
// @Summary Get an import job
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.ImportJobResponse
// @Router /imports/{id} [get]
func (h *ImportHandler) GetImportJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.tracker.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "NOT_FOUND",
					Message: "Import job not found",
				},
			})
			return
		}
		h.log.WithError(err).Error("Failed to fetch import job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FETCH_FAILED",
				Message: "Failed to fetch import job",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.ImportJobResponse{
		Success: true,
		Data:    job,
	})
}

// CancelImportJob flags a queued or running job for cancellation. The
// worker honors the flag at the next batch boundary; work already
// committed stays committed.
// @Summary Cancel an import job
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} models.SuccessResponse
// @Router /imports/{id}/cancel [post]
func (h *ImportHandler) CancelImportJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	err := h.tracker.RequestCancel(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "NOT_FOUND",
					Message: "Import job not found",
				},
			})
		case errors.Is(err, jobs.ErrInvalidTransition):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "ALREADY_FINISHED",
					Message: "Import job already reached a terminal status",
				},
			})
		default:
			h.log.WithError(err).Error("Failed to cancel import job")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "CANCEL_FAILED",
					Message: "Failed to cancel import job",
				},
			})
		}
		return
	}

	message := "Cancellation requested; the job stops at the next batch boundary"
	c.JSON(http.StatusAccepted, models.SuccessResponse{
		Success: true,
		Message: &message,
	})
}

// GetImportTemplate returns the price-list template as JSON metadata or a
// downloadable CSV/XLSX file.
// @Summary Download the price-list import template
// @Tags imports
// @Produce json
// @Param format query string false "json, csv or xlsx" default(json)
// @Router /products/import/template [get]
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	format := c.DefaultQuery("format", "json")

	template := models.PriceListTemplate()

	switch format {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}

// generateCSVTemplate generates and downloads a CSV template (headers only)
func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=price_list_template.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	writer.Write(headers)
}

// generateXLSXTemplate generates and downloads an Excel template
func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Products"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Name
		if col.Required {
			headerText = col.Name + " *"
		}
		f.SetCellValue(sheetName, cell, headerText)

		if col.Required {
			f.SetCellStyle(sheetName, cell, cell, requiredStyle)
		} else {
			f.SetCellStyle(sheetName, cell, cell, headerStyle)
		}

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=price_list_template.xlsx")
	if err := f.Write(c.Writer); err != nil {
		h.log.WithError(err).Error("Failed to write XLSX template")
	}
}

// spoolFile copies the upload into the spool directory under a unique name,
// preserving the original extension so the worker can detect the format.
func (h *ImportHandler) spoolFile(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}

	spoolName := uuid.New().String() + strings.ToLower(filepath.Ext(filename))
	spoolPath := filepath.Join(h.spoolDir, spoolName)

	dst, err := os.Create(spoolPath)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(spoolPath)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	return spoolPath, nil
}

func (h *ImportHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_ID",
				Message: "Job ID must be a valid UUID",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}
