package model

// ScanResultRecord is one completed task as POSTed to the backend.
type ScanResultRecord struct {
	ProductID          string             `json:"product_id"`
	ScanSessionID      string             `json:"scan_session_id"`
	Platform           string             `json:"platform"`
	PromptID           string             `json:"prompt_id"`
	PromptText         string             `json:"prompt_text"`
	ResponseText       string             `json:"response_text"`
	BrandMentioned     bool               `json:"brand_mentioned"`
	CitationPresent    bool               `json:"citation_present"`
	Position           int                `json:"position,omitempty"`
	Sentiment          string             `json:"sentiment,omitempty"`
	CompetitorMentions []string           `json:"competitor_mentions,omitempty"`
	CompetitorDetails  []CompetitorDetail `json:"competitor_details,omitempty"`
	Citations          []string           `json:"citations,omitempty"`
	CreditsExhausted   bool               `json:"credits_exhausted,omitempty"`
	ChatURL            string             `json:"chat_url,omitempty"`
	RequestRegion      string             `json:"request_country,omitempty"`
}

// ScanReport is the final aggregate of one scan. Rates are percentages in
// [0, 100], zero when nothing was collected. Never mutated after construction.
type ScanReport struct {
	TotalPrompts      int     `json:"total_prompts"`
	SuccessfulPrompts int     `json:"successful_prompts"`
	MentionRate       float64 `json:"mention_rate"`
	CitationRate      float64 `json:"citation_rate"`
}

// NewScanReport folds per-lane tallies into a report.
func NewScanReport(total, collected, mentioned, cited int) ScanReport {
	r := ScanReport{TotalPrompts: total, SuccessfulPrompts: collected}
	if collected > 0 {
		r.MentionRate = float64(mentioned) / float64(collected) * 100.0
		r.CitationRate = float64(cited) / float64(collected) * 100.0
	}
	return r
}
