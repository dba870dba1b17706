package model

// Prompt is one brand-monitoring question as served by the backend. A prompt
// with no target regions runs once in the synthetic "local" region; otherwise
// it runs once per listed region.
type Prompt struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	TargetRegions []string `json:"target_regions,omitempty"`
}

// ProductInfo is the monitored product as served by the backend.
type ProductInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Brand         string   `json:"brand"`
	Domain        string   `json:"domain,omitempty"`
	DomainAliases []string `json:"domain_aliases,omitempty"`
}

// PromptsResponse is the payload of the prompt-fetch endpoint.
type PromptsResponse struct {
	Product     ProductInfo `json:"product"`
	Prompts     []Prompt    `json:"prompts"`
	Competitors []string    `json:"competitors"`
}

// BrandContext is everything a driver needs to score a collected answer.
type BrandContext struct {
	Brand         string
	Domain        string
	DomainAliases []string
	Competitors   []string
}

// BrandContext extracts the scoring context from a prompts response.
func (pr *PromptsResponse) BrandContext() BrandContext {
	return BrandContext{
		Brand:         pr.Product.Brand,
		Domain:        pr.Product.Domain,
		DomainAliases: pr.Product.DomainAliases,
		Competitors:   pr.Competitors,
	}
}
