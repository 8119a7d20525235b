package storage

import "time"

// Analysis is the recorded capacity of one cover image
type Analysis struct {
	ID          string    `json:"id"`                     // SHA256 hash of image data
	Name        string    `json:"name"`                   // File name used for uploads
	Source      string    `json:"source"`                 // Path, URL or MXC URI it was loaded from
	AnalyzedAt  time.Time `json:"analyzed_at"`            // When the analysis settled
	MimeType    string    `json:"mime_type"`              // Image MIME type
	Width       int       `json:"width"`                  // Image width in pixels
	Height      int       `json:"height"`                 // Image height in pixels
	SizeBytes   int64     `json:"size_bytes"`             // File size in bytes
	ClientBytes int64     `json:"client_bytes"`           // Local estimate
	ServerBytes int64     `json:"server_bytes,omitempty"` // Service estimate, 0 when unavailable
	FinalBytes  int64     `json:"final_bytes"`            // The estimate that won
	FinalSource string    `json:"final_source"`           // "client" or "server"
	Degraded    bool      `json:"degraded,omitempty"`     // Fixed fallback was used
	ServerError string    `json:"server_error,omitempty"` // Why the service had no answer
	RoomID      string    `json:"room_id,omitempty"`      // Matrix room, for bot analyses
	EventID     string    `json:"event_id,omitempty"`     // Matrix event, for bot analyses
}

// History holds all recorded analyses
type History struct {
	Analyses []Analysis `json:"analyses"`
}
