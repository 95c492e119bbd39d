package models

import "time"

// UploadRecord tracks an uploaded file in the temp work area until it expires.
type UploadRecord struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Token        string    `json:"token"`
	FieldName    string    `json:"field_name"`
	OriginalName string    `json:"original_name"`
	StoredPath   string    `json:"stored_path"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ReportArtifact is a written workbook available for download until it expires.
type ReportArtifact struct {
	ID             int64     `json:"id"`
	Token          string    `json:"token"`
	SessionID      string    `json:"session_id"`
	UploadFilename string    `json:"upload_filename"`
	ReportName     string    `json:"report_name"`
	Path           string    `json:"path"`
	Size           int64     `json:"size"`
	SheetCount     int       `json:"sheet_count"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
