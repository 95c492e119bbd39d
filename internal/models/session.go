package models

import "time"

// UploadSession identifies one upload attempt; it is consumed by exactly one upload action.
type UploadSession struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	StartedAt    time.Time `json:"started_at"`
	DeclaredSize int64     `json:"declared_size"`
	MaxPartSize  int64     `json:"max_part_size"`
}

// UploadedFile is one persisted multipart field.
type UploadedFile struct {
	FieldName    string `json:"field_name"`
	OriginalName string `json:"original_name"`
	StoredName   string `json:"stored_name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	DeclaredSize int64  `json:"declared_size"`
}

// CompletedUpload is handed to the content dispatcher once a field has been fully written.
type CompletedUpload struct {
	UploadedFile
	// UploadFilename is the original name with its extension replaced by .xlsx.
	UploadFilename string `json:"upload_filename"`
	// DestDir is where an archive may be expanded; it is not created up front.
	DestDir string `json:"dest_dir"`
}
