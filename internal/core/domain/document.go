package domain

import (
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// Document is the metadata of an uploaded file. The binary lives in the
// object store under Filename.
type Document struct {
	ID               string           `json:"id"`
	Filename         string           `json:"filename"`          // Storage name: uuid + original extension
	OriginalFilename string           `json:"original_filename"` // Name as uploaded
	FileType         string           `json:"file_type"`         // MIME type
	FileSize         int64            `json:"file_size"`
	ControlID        string           `json:"control_id,omitempty"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	ExtractionError  string           `json:"extraction_error,omitempty"`
	FileURL          string           `json:"file_url,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// FileSizeMB returns the size in megabytes rounded to 2 decimals
func (d *Document) FileSizeMB() float64 {
	return math.Round(float64(d.FileSize)/(1024*1024)*100) / 100
}

// FileExtension returns the lower-cased extension of the original filename without the dot
func (d *Document) FileExtension() string {
	ext := filepath.Ext(d.OriginalFilename)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsReadyForProcessing returns true once extracted text is available
func (d *Document) IsReadyForProcessing() bool {
	return d.ExtractionStatus.IsReadyForAnalysis()
}

// MarshalJSON adds the derived fields to the encoded document
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	return json.Marshal(struct {
		plain
		FileSizeMB           float64 `json:"file_size_mb"`
		FileExtension        string  `json:"file_extension"`
		IsReadyForProcessing bool    `json:"is_ready_for_processing"`
	}{
		plain:                plain(d),
		FileSizeMB:           d.FileSizeMB(),
		FileExtension:        d.FileExtension(),
		IsReadyForProcessing: d.IsReadyForProcessing(),
	})
}

// DocumentContent holds the text extracted from a document by the parser
type DocumentContent struct {
	DocumentID  string         `json:"document_id"`
	Text        string         `json:"text"`
	Raw         map[string]any `json:"raw,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// UploadLimits bounds what may be uploaded
type UploadLimits struct {
	MaxFileSize      int64
	AllowedFileTypes []string
}

// DefaultMaxFileSize is 50MB
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// DefaultAllowedFileTypes is the MIME allow-list used when none is configured
var DefaultAllowedFileTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"text/csv",
	"application/json",
	"text/plain",
}

// DefaultUploadLimits returns the default upload limits
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxFileSize:      DefaultMaxFileSize,
		AllowedFileTypes: DefaultAllowedFileTypes,
	}
}

// Validate checks size and MIME type of a candidate upload
func (l UploadLimits) Validate(fileType string, size int64) error {
	if size <= 0 {
		return NewValidationError("file_size", "file is empty")
	}
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return &ValidationError{
			Field:   "file_size",
			Message: "file size exceeds maximum allowed size",
			Code:    ValidationCodeFileTooLarge,
		}
	}
	mime := NormalizeMIME(fileType)
	if !strings.Contains(mime, "/") {
		return &ValidationError{
			Field:   "file_type",
			Message: "invalid MIME type format",
			Code:    ValidationCodeUnsupportedMedia,
		}
	}
	for _, allowed := range l.AllowedFileTypes {
		if strings.EqualFold(allowed, mime) {
			return nil
		}
	}
	return &ValidationError{
		Field:   "file_type",
		Message: "file type " + mime + " not supported",
		Code:    ValidationCodeUnsupportedMedia,
	}
}

// NormalizeMIME lower-cases a content type and strips parameters like charset
func NormalizeMIME(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

// StorageFilename builds a collision-resistant storage name that keeps the
// original extension.
func StorageFilename(originalFilename string) string {
	return NewUUID() + strings.ToLower(filepath.Ext(originalFilename))
}

// UploadFailure describes one file that could not be uploaded
type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchUploadResult partitions a batch upload into successes and failures
type BatchUploadResult struct {
	Uploaded      []*Document     `json:"uploaded_files"`
	Failed        []UploadFailure `json:"failed_files"`
	TotalUploaded int             `json:"total_uploaded"`
	TotalFailed   int             `json:"total_failed"`
}
