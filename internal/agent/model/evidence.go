package model

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// SourceType names the corpus a chunk came from.
type SourceType string

const (
	SourcePost SourceType = "post"
	SourcePage SourceType = "page"
)

// Evidence is one retrieved chunk with its scores.
type Evidence struct {
	ChunkID       string     `json:"chunk_id"`
	Title         string     `json:"title"`
	Source        string     `json:"source"`
	SourceType    SourceType `json:"source_type"`
	Content       string     `json:"content"`
	LastEdited    time.Time  `json:"last_edited_time"`
	Similarity    float64    `json:"similarity"`
	RecencyDecay  float64    `json:"recency_decay"`
	TemporalScore float64    `json:"temporal_score"`
	ContentScore  float64    `json:"content_relevance_score"`
	MetadataScore float64    `json:"metadata_relevance_score"`
	TotalScore    float64    `json:"total_score"`
	Iteration     int        `json:"iteration"`
}

// String renders the evidence as a context block for prompts.
func (e Evidence) String() string {
	edited := "unknown"
	if !e.LastEdited.IsZero() {
		edited = e.LastEdited.UTC().Format(time.DateTime)
	}
	return fmt.Sprintf("Title: %s\nSource: %s\nLast Time Edited: %s\nScore: %g\n%s",
		e.Title, e.Source, edited, e.TotalScore, e.Content)
}

// CompareEvidence orders by total score, then metadata score (both descending),
// then newer edits first, then chunk id.
func CompareEvidence(a, b Evidence) int {
	if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.MetadataScore, a.MetadataScore); c != 0 {
		return c
	}
	if c := b.LastEdited.Compare(a.LastEdited); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

// SortEvidence sorts in place using CompareEvidence.
func SortEvidence(items []Evidence) {
	slices.SortStableFunc(items, CompareEvidence)
}

// Verdict is the sufficiency judgement for the current evidence set.
type Verdict struct {
	Score              float64 `json:"sufficiency_score"`
	MissingInformation string  `json:"missing_information"`
}

// StopReason records why a retrieval loop ended.
type StopReason string

const (
	StopNone                    StopReason = ""
	StopSufficient              StopReason = "sufficient"
	StopIterationBudgetExceeded StopReason = "iteration_budget_exceeded"
	StopModelFinished           StopReason = "model_finished"
)
