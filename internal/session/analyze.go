package session

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/avistalabs/columbus/internal/model"
)

var positiveWords = []string{
	"best", "great", "excellent", "leading", "top", "recommended", "popular",
	"powerful", "reliable", "trusted", "favorite", "strong",
}

var negativeWords = []string{
	"worst", "poor", "bad", "expensive", "limited", "lacks", "weak",
	"difficult", "complicated", "outdated", "slow",
}

// Analyze scores a collected answer against the brand context: whether and
// where the brand appears, which competitors appear, local sentiment around
// each mention, and whether any citation points at the brand's domain.
func Analyze(text string, citations []string, brand model.BrandContext) *model.CollectResponse {
	resp := &model.CollectResponse{
		ResponseText: text,
		Citations:    citations,
		Sentiment:    "neutral",
	}

	type mention struct {
		name string
		idx  int
	}
	var mentions []mention

	brandIdx := mentionIndex(text, brand.Brand)
	if brandIdx >= 0 {
		resp.BrandMentioned = true
		resp.Sentiment = sentimentAround(text, brandIdx, len(brand.Brand))
		mentions = append(mentions, mention{brand.Brand, brandIdx})
	}

	for _, comp := range brand.Competitors {
		if idx := mentionIndex(text, comp); idx >= 0 {
			resp.CompetitorMentions = append(resp.CompetitorMentions, comp)
			mentions = append(mentions, mention{comp, idx})
		}
	}

	// Position is the 1-based rank by first appearance among all mentioned
	// entities, mirroring how a reader encounters them.
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].idx < mentions[j].idx })
	for rank, m := range mentions {
		if m.name == brand.Brand && resp.BrandMentioned {
			resp.Position = rank + 1
			continue
		}
		resp.CompetitorDetails = append(resp.CompetitorDetails, model.CompetitorDetail{
			Name:      m.name,
			Position:  rank + 1,
			Sentiment: sentimentAround(text, m.idx, len(m.name)),
		})
	}

	resp.CitationPresent = citesDomain(citations, brand.Domain, brand.DomainAliases)
	return resp
}

// mentionIndex finds the first whole-word, case-insensitive occurrence of
// name in text, or -1.
func mentionIndex(text, name string) int {
	if name == "" {
		return -1
	}
	lower := strings.ToLower(text)
	target := strings.ToLower(name)
	from := 0
	for {
		i := strings.Index(lower[from:], target)
		if i < 0 {
			return -1
		}
		idx := from + i
		if isWordBoundary(lower, idx-1) && isWordBoundary(lower, idx+len(target)) {
			return idx
		}
		from = idx + len(target)
	}
}

func isWordBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// sentimentAround classifies the text surrounding one mention by keyword
// polarity within a fixed window.
func sentimentAround(text string, idx, nameLen int) string {
	const window = 120
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + nameLen + window
	if end > len(text) {
		end = len(text)
	}
	ctx := strings.ToLower(text[start:end])

	var score int
	for _, w := range positiveWords {
		if strings.Contains(ctx, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(ctx, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return "positive"
	case score < 0:
		return "negative"
	default:
		return "neutral"
	}
}

// citesDomain reports whether any citation URL's host is the brand domain or
// one of its aliases (including subdomains).
func citesDomain(citations []string, domain string, aliases []string) bool {
	targets := make([]string, 0, len(aliases)+1)
	if domain != "" {
		targets = append(targets, strings.ToLower(domain))
	}
	for _, a := range aliases {
		if a != "" {
			targets = append(targets, strings.ToLower(a))
		}
	}
	if len(targets) == 0 {
		return false
	}

	for _, c := range citations {
		u, err := url.Parse(c)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
		for _, t := range targets {
			t = strings.TrimPrefix(t, "www.")
			if host == t || strings.HasSuffix(host, "."+t) {
				return true
			}
		}
	}
	return false
}
