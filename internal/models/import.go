package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// ImportJobStatus represents the lifecycle state of an import job.
// Transitions are monotonic: queued -> running -> terminal. A terminal job
// never moves again, with one exception: the recovery sweep may return a
// stale running job to queued.
type ImportJobStatus string

const (
	ImportStatusQueued         ImportJobStatus = "queued"
	ImportStatusRunning        ImportJobStatus = "running"
	ImportStatusSucceeded      ImportJobStatus = "succeeded"
	ImportStatusPartialFailure ImportJobStatus = "partial_failure"
	ImportStatusFailed         ImportJobStatus = "failed"
)

// Terminal reports whether the status is one of the three final states.
func (s ImportJobStatus) Terminal() bool {
	switch s {
	case ImportStatusSucceeded, ImportStatusPartialFailure, ImportStatusFailed:
		return true
	}
	return false
}

// Failure reasons recorded on jobs that end in status failed.
const (
	FailReasonSchemaMismatch   = "schema_mismatch"
	FailReasonUnreadableFile   = "unreadable_file"
	FailReasonStoreUnavailable = "store_unavailable"
	FailReasonCancelled        = "cancelled"
)

// Row error reasons recorded in the job error log.
const (
	RowErrNormalization = "normalization_error"
	RowErrAmbiguousKey  = "ambiguous_external_key"
	RowErrWriteFailed   = "write_failed"
)

// Job-level warnings (degraded mode, not failures).
const (
	WarnClassifierUnavailable = "classifier_unavailable"
)

// ImportCounters is a delta of per-row outcomes accumulated onto a job
// after every batch.
type ImportCounters struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// Add accumulates another delta into c.
func (c *ImportCounters) Add(other ImportCounters) {
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// ImportRowError is one entry in an import job's error log, attributing a
// failure to a physical row of the submitted file.
type ImportRowError struct {
	Row     int    `json:"row"`
	Reason  string `json:"reason"`
	Excerpt string `json:"excerpt,omitempty"`
}

// ImportErrorLog is the JSONB-persisted, file-ordered error log of a job.
type ImportErrorLog []ImportRowError

func (l ImportErrorLog) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *ImportErrorLog) Scan(value interface{}) error {
	if value == nil {
		*l = make(ImportErrorLog, 0)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// ImportWarnings is the JSONB-persisted list of job-level warnings.
type ImportWarnings []string

func (w ImportWarnings) Value() (driver.Value, error) {
	return json.Marshal(w)
}

func (w *ImportWarnings) Scan(value interface{}) error {
	if value == nil {
		*w = make(ImportWarnings, 0)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, w)
}

// ImportJob persists the lifecycle of one bulk catalog import, independent
// of the worker process performing the work. Counters hold the invariant
// created+updated+skipped+failed <= total at all times.
type ImportJob struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Filename        string          `json:"filename" gorm:"not null"`
	FilePath        string          `json:"-" gorm:"not null"`
	Status          ImportJobStatus `json:"status" gorm:"not null;default:'queued';index"`
	RowsTotal       int             `json:"rowsTotal" gorm:"not null;default:0"`
	RowsCreated     int             `json:"rowsCreated" gorm:"not null;default:0"`
	RowsUpdated     int             `json:"rowsUpdated" gorm:"not null;default:0"`
	RowsSkipped     int             `json:"rowsSkipped" gorm:"not null;default:0"`
	RowsFailed      int             `json:"rowsFailed" gorm:"not null;default:0"`
	ErrorLog        ImportErrorLog  `json:"errorLog" gorm:"type:jsonb"`
	Warnings        ImportWarnings  `json:"warnings,omitempty" gorm:"type:jsonb"`
	FailureReason   *string         `json:"failureReason,omitempty"`
	CancelRequested bool            `json:"cancelRequested" gorm:"not null;default:false"`
	Attempts        int             `json:"attempts" gorm:"not null;default:0"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// TableName returns the table name for the ImportJob model
func (ImportJob) TableName() string {
	return "import_jobs"
}

// ImportJobResponse wraps a single job for the status API
type ImportJobResponse struct {
	Success bool       `json:"success"`
	Data    *ImportJob `json:"data"`
	Message *string    `json:"message,omitempty"`
}

// ImportJobListResponse wraps a job listing for the status API
type ImportJobListResponse struct {
	Success    bool            `json:"success"`
	Data       []ImportJob     `json:"data"`
	Pagination *PaginationInfo `json:"pagination"`
}

// ImportSubmittedResponse is returned on upload: processing is asynchronous,
// the job id is the handle for status polling.
type ImportSubmittedResponse struct {
	Success bool      `json:"success"`
	JobID   uuid.UUID `json:"jobId"`
	Status  string    `json:"status"`
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// PriceListColumns returns the column definitions for the supplier
// price-list import. Column names are the fixed header contract; a file
// missing any required column fails with a job-level schema error.
func PriceListColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "external_key", Description: "Supplier-stable product identifier", Required: true, Type: "string", Example: "DK-1042"},
		{Name: "name", Description: "Product name", Required: true, Type: "string", Example: "Oak Interior Door 80cm"},
		{Name: "price", Description: "Unit price, non-negative decimal", Required: true, Type: "number", Example: "249.90"},
		{Name: "manufacturer", Description: "Manufacturer name - auto-created if not seen before", Required: false, Type: "string", Example: "Belwooddoors"},
		{Name: "category_hint", Description: "Category name - classified automatically when absent", Required: false, Type: "string", Example: "Interior doors"},
		{Name: "description", Description: "Product description", Required: false, Type: "string", Example: ""},
		{Name: "images", Description: "Comma-separated image URLs", Required: false, Type: "string", Example: ""},
	}
}

// PriceListTemplate returns the template definition for price-list imports
func PriceListTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "products",
		Version: "1.0",
		Columns: PriceListColumns(),
	}
}
