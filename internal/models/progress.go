package models

// ProgressEvent is an immutable snapshot of one streamed field of an upload session.
type ProgressEvent struct {
	UploadID         string `json:"uploadId"`
	Name             string `json:"name"`
	Filename         string `json:"filename"`
	FilesizeKB       int64  `json:"filesizeInKilobytes"`
	UploadedKB       int64  `json:"uploadedKilobytes"`
	Percentage       int64  `json:"percentageStatus"`
	RemainingSeconds int64  `json:"remainingDurationInSeconds"`
	Done             bool   `json:"done"`
}
