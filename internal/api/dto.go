package api

import (
	"time"

	"github.com/rpattn/labframe/internal/domain"
)

// SampleResponse is the wire form of a sample.
type SampleResponse struct {
	SampleID   int64     `json:"sample_id"`
	PreparedOn string    `json:"prepared_on"`
	AuthorName *string   `json:"author_name"`
	Deleted    bool      `json:"deleted"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SampleDetailResponse is a sample with its current parameter values.
type SampleDetailResponse struct {
	SampleResponse
	Parameters []ParameterValueResponse `json:"parameters"`
}

// ParameterValueResponse is the wire form of a current value.
type ParameterValueResponse struct {
	SampleID      int64                 `json:"sample_id"`
	ParameterName string                `json:"parameter_name"`
	ValueType     domain.ValueType      `json:"value_type"`
	Value         domain.ParameterValue `json:"value"`
	RecordedAt    time.Time             `json:"recorded_at"`
}

// HistoryEntryResponse is the wire form of a history entry.
type HistoryEntryResponse struct {
	ID int64 `json:"id"`
	ParameterValueResponse
}

// CreateSampleRequest for POST /samples
type CreateSampleRequest struct {
	PreparedOn       string  `json:"prepared_on"`
	AuthorName       *string `json:"author_name"`
	TemplateSampleID *int64  `json:"template_sample_id"`
	CopyParameters   bool    `json:"copy_parameters"`
}

// CreateSampleResponse for POST /samples
type CreateSampleResponse struct {
	Sample           SampleDetailResponse `json:"sample"`
	CopiedParameters int                  `json:"copied_parameters"`
	Warnings         []string             `json:"warnings"`
}

// RecordParametersRequest for POST /samples/{id}/parameters
type RecordParametersRequest struct {
	Parameters []ParameterAssignmentRequest `json:"parameters"`
}

// ParameterAssignmentRequest is one raw (name, value) pair.
type ParameterAssignmentRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// RecordParametersResponse for POST /samples/{id}/parameters
type RecordParametersResponse struct {
	Sample SampleDetailResponse `json:"sample"`
}

func toSampleResponse(sample domain.Sample) SampleResponse {
	return SampleResponse{
		SampleID:   sample.ID,
		PreparedOn: sample.PreparedOn.Format(domain.DateLayout),
		AuthorName: sample.AuthorName,
		Deleted:    sample.Deleted,
		Version:    sample.Version,
		CreatedAt:  sample.CreatedAt,
		UpdatedAt:  sample.UpdatedAt,
	}
}

func toSampleResponses(samples []domain.Sample) []SampleResponse {
	result := make([]SampleResponse, len(samples))
	for i, sample := range samples {
		result[i] = toSampleResponse(sample)
	}
	return result
}

func toSampleDetail(snapshot domain.SampleSnapshot) SampleDetailResponse {
	return SampleDetailResponse{
		SampleResponse: toSampleResponse(snapshot.Sample),
		Parameters:     toValueResponses(snapshot.Parameters),
	}
}

func toValueResponse(value domain.SampleParameterValue) ParameterValueResponse {
	return ParameterValueResponse{
		SampleID:      value.SampleID,
		ParameterName: value.ParameterName,
		ValueType:     value.Value.Type(),
		Value:         value.Value,
		RecordedAt:    value.RecordedAt,
	}
}

func toValueResponses(values []domain.SampleParameterValue) []ParameterValueResponse {
	result := make([]ParameterValueResponse, len(values))
	for i, value := range values {
		result[i] = toValueResponse(value)
	}
	return result
}

func toHistoryResponses(entries []domain.ParameterHistoryEntry) []HistoryEntryResponse {
	result := make([]HistoryEntryResponse, len(entries))
	for i, entry := range entries {
		result[i] = HistoryEntryResponse{
			ID: entry.ID,
			ParameterValueResponse: toValueResponse(domain.SampleParameterValue{
				SampleID:      entry.SampleID,
				ParameterName: entry.ParameterName,
				Value:         entry.Value,
				RecordedAt:    entry.RecordedAt,
			}),
		}
	}
	return result
}
