package internal

import "time"

// CorrectionRequest identifies one text submitted for correction.
type CorrectionRequest struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
