package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID  string    `json:"documentId"`
	ProjectID   string    `json:"projectId"`
	FileName    string    `json:"fileName"`
	MimeType    string    `json:"mimeType"`
	FileSize    int64     `json:"fileSize"`
	Status      Status    `json:"status"`
	PageCount   *int      `json:"pageCount,omitempty"`
	RetryCount  int       `json:"retryCount"`
	ErrorReason string    `json:"errorReason,omitempty"`
	CreatedAt   time.Time `json:"created"`
	UpdatedAt   time.Time `json:"updated"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Status     Status `json:"status"`
}

func toResponse(doc Document) DocumentResponse {
	resp := DocumentResponse{
		DocumentID: doc.ID,
		ProjectID:  doc.ProjectID,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		FileSize:   doc.FileSize,
		Status:     doc.Status,
		RetryCount: doc.RetryCount,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	switch doc.Status {
	case StatusReady:
		pages := doc.PageCount
		resp.PageCount = &pages
	case StatusFailed, StatusDeadLettered:
		resp.ErrorReason = doc.ErrorReason
	}
	return resp
}
