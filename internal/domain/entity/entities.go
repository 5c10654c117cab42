package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

// FieldType represents the kind of data a sheet field holds
type FieldType string

const (
	FieldTypeNumber FieldType = "number"
	FieldTypeText   FieldType = "text"
	FieldTypeBool   FieldType = "bool"
)

// Field represents one named slot of a character sheet
type Field struct {
	Key           string          `json:"key"`
	Label         string          `json:"label,omitempty"`
	Type          FieldType       `json:"type"`
	Value         formula.Value   `json:"value"`
	Formula       string          `json:"formula,omitempty"` // e.g., "floor((str - 10) / 2)"
	Dialect       formula.Dialect `json:"dialect,omitempty"`
	Error         string          `json:"error,omitempty"`
	SequenceOrder int             `json:"sequence_order"`
}

// IsComputed reports whether the field value is derived from a formula
func (f *Field) IsComputed() bool {
	return f.Formula != ""
}

// CharacterSheet represents the data of one character
type CharacterSheet struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerName string    `json:"owner_name,omitempty"`
	Fields    []*Field  `json:"fields"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field returns the field with the given key
func (s *CharacterSheet) Field(key string) (*Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return nil, false
}

// Resolve implements formula.Resolver over the current field values
func (s *CharacterSheet) Resolve(key string) (formula.Value, bool) {
	f, ok := s.Field(key)
	if !ok {
		return formula.Value{}, false
	}
	return f.Value, true
}

// FieldsJSON returns fields as JSON bytes
func (s *CharacterSheet) FieldsJSON() ([]byte, error) {
	return json.Marshal(s.Fields)
}

// Values returns the display values keyed by field
func (s *CharacterSheet) Values() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Key] = f.Value.String()
	}
	return out
}

// JobStatus represents the status of a batch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// JobType represents the type of batch job
type JobType string

const (
	JobTypeRecalculateAll   JobType = "RECALCULATE_ALL"
	JobTypeRecalculateSheet JobType = "RECALCULATE_SHEET"
)

// BatchJob represents a background job for large operations
type BatchJob struct {
	ID               uuid.UUID              `json:"id"`
	JobType          JobType                `json:"job_type"`
	Status           JobStatus              `json:"status"`
	TotalRecords     int64                  `json:"total_records"`
	ProcessedRecords int64                  `json:"processed_records"`
	FailedRecords    int64                  `json:"failed_records"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Progress returns the progress percentage
func (b *BatchJob) Progress() float64 {
	if b.TotalRecords == 0 {
		return 0
	}
	return float64(b.ProcessedRecords) / float64(b.TotalRecords) * 100
}

// MetadataJSON returns metadata as JSON bytes
func (b *BatchJob) MetadataJSON() ([]byte, error) {
	if b.Metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.Metadata)
}
