package models

import "time"

// OriginalImageID is the reserved identifier of the original image in a session.
const OriginalImageID = "original"

// AnalysisStatus is the lifecycle state of a session's analysis run
type AnalysisStatus string

const (
	StatusIdle      AnalysisStatus = "IDLE"
	StatusAnalyzing AnalysisStatus = "ANALYZING"
	StatusComplete  AnalysisStatus = "COMPLETE"
	StatusError     AnalysisStatus = "ERROR"
)

// UploadedImage is an image selected by the user, either the original or an edition
type UploadedImage struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Size       int       `json:"size"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Data       []byte    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// EncodedPart is the transport-safe form of an image sent to the model
type EncodedPart struct {
	Data     string
	MimeType string
}

// EditionResult holds the generated instructions for one edition
type EditionResult struct {
	EditionID    string `json:"edition_id"`
	Position     int    `json:"position"`
	Filename     string `json:"filename,omitempty"`
	Instructions string `json:"instructions"`
}

// SessionSnapshot is a read-only view of a session, safe to serialize
type SessionSnapshot struct {
	ID                  string          `json:"id"`
	Status              AnalysisStatus  `json:"status"`
	Original            *UploadedImage  `json:"original,omitempty"`
	Editions            []UploadedImage `json:"editions"`
	OriginalDescription string          `json:"original_description,omitempty"`
	Results             []EditionResult `json:"results,omitempty"`
	Error               string          `json:"error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
