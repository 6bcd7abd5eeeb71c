package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportLogEntry captures a row level issue reported by a reading import.
type ImportLogEntry struct {
	ID           uuid.UUID `json:"id"`
	FileName     string    `json:"file_name"`
	RowNumber    *int      `json:"row_number,omitempty"`
	SampleID     *int64    `json:"sample_id,omitempty"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
