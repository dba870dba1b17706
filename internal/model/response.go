package model

// CompetitorDetail records one competitor found in a collected answer.
// Position is the 1-based order of first occurrence, 0 when absent.
type CompetitorDetail struct {
	Name      string `json:"name"`
	Position  int    `json:"position,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

// CollectResponse is the structured outcome of pulling one answer out of a
// platform session.
type CollectResponse struct {
	ResponseText     string             `json:"response_text"`
	BrandMentioned   bool               `json:"brand_mentioned"`
	CitationPresent  bool               `json:"citation_present"`
	Position         int                `json:"position,omitempty"`
	Sentiment        string             `json:"sentiment,omitempty"`
	CompetitorMentions []string         `json:"competitor_mentions,omitempty"`
	CompetitorDetails  []CompetitorDetail `json:"competitor_details,omitempty"`
	Citations        []string           `json:"citations,omitempty"`
	CreditsExhausted bool               `json:"credits_exhausted,omitempty"`
	ChatURL          string             `json:"chat_url,omitempty"`
}
