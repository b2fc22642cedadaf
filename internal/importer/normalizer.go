package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"catalog-service/internal/models"
	"github.com/xuri/excelize/v2"
)

// Fatal job-level parse errors. These abort the job before any row is
// processed, as opposed to per-row normalization errors which do not.
var (
	ErrSchemaMismatch = errors.New("header schema mismatch")
	ErrUnreadableFile = errors.New("unreadable file")
	ErrEmptyFile      = errors.New("file contains no data rows")
)

// Columns of the fixed price-list header contract.
const (
	colExternalKey  = "external_key"
	colName         = "name"
	colPrice        = "price"
	colManufacturer = "manufacturer"
	colCategoryHint = "category_hint"
	colDescription  = "description"
	colImages       = "images"
)

var requiredColumns = []string{colExternalKey, colName, colPrice}

// maxPrice bounds accepted unit prices; anything above it is a data entry
// error, not a price.
const maxPrice = 1e9

// RawRow is one physical data row of the submitted sheet: positional index
// (1-based file row, header included) plus raw cell values keyed by column.
// Ephemeral; never persisted on its own.
type RawRow struct {
	Index int
	Cells map[string]string
}

// NormalizedRow is the strongly-typed result of normalizing a RawRow.
// Price is kept as its canonical decimal string; it has already been
// validated as a non-negative number.
type NormalizedRow struct {
	Index        int
	ExternalKey  string
	Name         string
	Price        string
	Manufacturer string
	CategoryHint string
	Description  string
	Images       []string
}

// RowError is a per-row normalization failure, carried alongside good rows
// so later stages count it as a failed row without aborting the job.
type RowError struct {
	Index   int
	Reason  string
	Excerpt string
}

// RowResult is either a normalized row or a row error, never both.
type RowResult struct {
	Row *NormalizedRow
	Err *RowError
}

// ParseSheet reads a CSV or XLSX price list into raw rows, validating the
// header against the fixed column contract. A missing required column or an
// unreadable file is a fatal, job-level error.
func ParseSheet(r io.Reader, filename string) ([]RawRow, error) {
	var headers []string
	var records [][]string
	var err error

	switch detectFormat(filename) {
	case models.ImportFormatCSV:
		headers, records, err = readCSV(r)
	case models.ImportFormatXLSX:
		headers, records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrUnreadableFile, filename)
	}
	if err != nil {
		return nil, err
	}

	if err := checkSchema(headers); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	rows := make([]RawRow, 0, len(records))
	for i, record := range records {
		cells := make(map[string]string, len(headers))
		for j, value := range record {
			if j < len(headers) {
				cells[headers[j]] = value
			}
		}
		// 1-based file row; +1 for the header row
		rows = append(rows, RawRow{Index: i + 2, Cells: cells})
	}
	return rows, nil
}

// Normalize coerces a raw row into a NormalizedRow or a RowError. It never
// fails the whole job: a bad cell produces a row error with reason
// "normalization_error" and the original row index preserved.
func Normalize(raw RawRow) RowResult {
	fail := func(msg string) RowResult {
		return RowResult{Err: &RowError{
			Index:   raw.Index,
			Reason:  models.RowErrNormalization,
			Excerpt: fmt.Sprintf("%s: %s", msg, rowExcerpt(raw)),
		}}
	}

	key := collapseWhitespace(raw.Cells[colExternalKey])
	if key == "" {
		return fail("external_key is required")
	}

	name := collapseWhitespace(raw.Cells[colName])
	if name == "" {
		return fail("name is required")
	}

	priceRaw := strings.TrimSpace(raw.Cells[colPrice])
	price, err := strconv.ParseFloat(priceRaw, 64)
	if err != nil {
		return fail(fmt.Sprintf("price %q is not a number", priceRaw))
	}
	// ParseFloat also accepts NaN, infinities and astronomic exponents.
	if math.IsNaN(price) || math.IsInf(price, 0) || price > maxPrice {
		return fail(fmt.Sprintf("price %q is out of range", priceRaw))
	}
	if price < 0 {
		return fail(fmt.Sprintf("price %q is negative", priceRaw))
	}

	return RowResult{Row: &NormalizedRow{
		Index:        raw.Index,
		ExternalKey:  key,
		Name:         name,
		Price:        canonicalPrice(price),
		Manufacturer: collapseWhitespace(raw.Cells[colManufacturer]),
		CategoryHint: collapseWhitespace(raw.Cells[colCategoryHint]),
		Description:  collapseWhitespace(raw.Cells[colDescription]),
		Images:       splitImages(raw.Cells[colImages]),
	}}
}

// NormalizeAll maps every raw row through Normalize, preserving file order.
func NormalizeAll(raws []RawRow) []RowResult {
	results := make([]RowResult, 0, len(raws))
	for _, raw := range raws {
		results = append(results, Normalize(raw))
	}
	return results
}

func detectFormat(filename string) models.ImportFormat {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return models.ImportFormatCSV
	case strings.HasSuffix(lower, ".xlsx"):
		return models.ImportFormatXLSX
	}
	return ""
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrUnreadableFile, err)
	}
	normalizeHeaders(headers)

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: error reading line %d: %v", ErrUnreadableFile, len(records)+2, err)
		}
		records = append(records, record)
	}
	return headers, records, nil
}

func readXLSX(r io.Reader) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to open Excel file: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: no sheets found in Excel file", ErrUnreadableFile)
	}

	excelRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read sheet: %v", ErrUnreadableFile, err)
	}
	if len(excelRows) == 0 {
		return nil, nil, fmt.Errorf("%w: missing header row", ErrSchemaMismatch)
	}

	headers := excelRows[0]
	normalizeHeaders(headers)
	return headers, excelRows[1:], nil
}

func normalizeHeaders(headers []string) {
	for i := range headers {
		headers[i] = strings.TrimSpace(strings.ToLower(headers[i]))
		headers[i] = strings.TrimSuffix(headers[i], " *")
	}
}

func checkSchema(headers []string) error {
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[h] = true
	}
	var missing []string
	for _, col := range requiredColumns {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required column(s) %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// collapseWhitespace trims and squeezes internal runs of whitespace to a
// single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalPrice renders a validated price with two decimal places so that
// re-imports of the same file compare equal against stored values.
func canonicalPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

func splitImages(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	images := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			images = append(images, p)
		}
	}
	return images
}

// rowExcerpt renders a short, loggable snapshot of the raw cells for the
// error log.
func rowExcerpt(raw RawRow) string {
	parts := make([]string, 0, 3)
	for _, col := range []string{colExternalKey, colName, colPrice} {
		if v := strings.TrimSpace(raw.Cells[col]); v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", col, truncate(v, 60)))
		}
	}
	if len(parts) == 0 {
		return "(empty row)"
	}
	return strings.Join(parts, " ")
}

// truncate cuts s to at most max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
