package types

import "time"

// ExecutionRecord is the persisted audit row for one engine execution.
type ExecutionRecord struct {
	ID                string             `json:"id"`
	MappingID         string             `json:"mappingId"`
	StartTime         time.Time          `json:"startTime"`
	EndTime           time.Time          `json:"endTime,omitempty"`
	Status            Status             `json:"status"`
	TotalRecords      int                `json:"totalRecords"`
	SuccessfulRecords int                `json:"successfulRecords"`
	FailedRecords     int                `json:"failedRecords"`
	SkippedRecords    int                `json:"skippedRecords"`
	Details           []DocumentResult   `json:"details,omitempty"`
	ErrorDetails      string             `json:"errorDetails,omitempty"`
	BonificationStats *BonificationStats `json:"bonificationStats,omitempty"`
}

// DocumentResult is the outcome of one document within an execution. Failures
// are carried as values here; they never propagate as errors out of the
// document loop.
type DocumentResult struct {
	DocumentID      string    `json:"documentId"`
	Success         bool      `json:"success"`
	Status          Status    `json:"status"`
	DocumentType    string    `json:"documentType,omitempty"`
	Message         string    `json:"message,omitempty"`
	ErrorCode       ErrorCode `json:"errorCode,omitempty"`
	ErrorDetails    string    `json:"errorDetails,omitempty"`
	ProcessedTables []string  `json:"processedTables,omitempty"`
	Consecutive     string    `json:"consecutive,omitempty"`
}

// ConsecutiveUsed records one consecutive value consumed by an execution.
type ConsecutiveUsed struct {
	DocumentID string `json:"documentId"`
	Numeric    int64  `json:"numeric"`
	Formatted  string `json:"formatted"`
}

// MarkingResult summarizes the mark-as-processed phase.
type MarkingResult struct {
	Strategy   MarkStrategy `json:"strategy"`
	Marked     int          `json:"marked"`
	RolledBack int          `json:"rolledBack"`
	Errors     []string     `json:"errors,omitempty"`
}

// BonificationStats aggregates bonification processing over one execution.
type BonificationStats struct {
	TotalBonifications int            `json:"totalBonifications"`
	TotalPromotions    int            `json:"totalPromotions"`
	ProcessedDetails   int            `json:"processedDetails"`
	BonificationTypes  map[string]int `json:"bonificationTypes,omitempty"`
}

// Merge accumulates another stats block into this one.
func (s *BonificationStats) Merge(other *BonificationStats) {
	if other == nil {
		return
	}
	s.TotalBonifications += other.TotalBonifications
	s.TotalPromotions += other.TotalPromotions
	s.ProcessedDetails += other.ProcessedDetails
	for k, v := range other.BonificationTypes {
		if s.BonificationTypes == nil {
			s.BonificationTypes = make(map[string]int)
		}
		s.BonificationTypes[k] += v
	}
}

// Result is the aggregate outcome of one execution.
type Result struct {
	ExecutionID       string             `json:"executionId"`
	MappingID         string             `json:"mappingId"`
	Status            Status             `json:"status"`
	Total             int                `json:"total"`
	Processed         int                `json:"processed"`
	Failed            int                `json:"failed"`
	Skipped           int                `json:"skipped"`
	ByType            map[string]int     `json:"byType,omitempty"`
	Details           []DocumentResult   `json:"details,omitempty"`
	ConsecutivesUsed  []ConsecutiveUsed  `json:"consecutivesUsed,omitempty"`
	BonificationStats *BonificationStats `json:"bonificationStats,omitempty"`
	Marking           *MarkingResult     `json:"markingResult,omitempty"`
	StartTime         time.Time          `json:"startTime"`
	EndTime           time.Time          `json:"endTime"`
}

// FinalStatus derives the terminal status per the engine contract: cancelled
// overrides everything; failed only when nothing succeeded; partial when both
// sides are non-zero.
func (r *Result) FinalStatus(cancelled bool) Status {
	switch {
	case cancelled:
		return StatusCancelled
	case r.Failed > 0 && r.Processed == 0:
		return StatusFailed
	case r.Failed > 0:
		return StatusPartial
	default:
		return StatusCompleted
	}
}

// Progress is a point-in-time snapshot reported between documents.
type Progress struct {
	ExecutionID string    `json:"executionId"`
	MappingID   string    `json:"mappingId"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	StartedAt   time.Time `json:"startedAt"`
}
