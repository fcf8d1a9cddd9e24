package state

import (
	"strings"

	"github.com/alexjbarnes/notify-relay/internal/models"
)

const (
	defaultSearchResults = 20
	snippetContext       = 50
	snippetMaxLen        = 120
)

// SearchMatch is a single search result.
type SearchMatch struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Title      string `json:"title"`
	MatchType  string `json:"match_type"`
	Snippet    string `json:"snippet"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
}

// SearchResult is the response for searching stored messages.
type SearchResult struct {
	Query        string        `json:"query"`
	TotalMatches int           `json:"total_matches"`
	Results      []SearchMatch `json:"results"`
}

// Search performs a case-insensitive substring search over message
// titles, then bodies. Within each phase the newest messages come first.
func (s *State) Search(query string, maxResults int) (*SearchResult, error) {
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	msgs, err := s.AllMessages()
	if err != nil {
		return nil, err
	}

	lowerQuery := strings.ToLower(query)
	matches := []SearchMatch{}

	if lowerQuery == "" {
		return &SearchResult{Query: query, Results: matches}, nil
	}

	seen := make(map[string]bool)

	// Phase 1: title matches.
	for i := len(msgs) - 1; i >= 0 && len(matches) < maxResults; i-- {
		m := msgs[i]
		if snippet, ok := matchSnippet(m.Title, lowerQuery); ok {
			matches = append(matches, newMatch(m, "title", snippet))
			seen[m.ID] = true
		}
	}

	// Phase 2: body matches.
	for i := len(msgs) - 1; i >= 0 && len(matches) < maxResults; i-- {
		m := msgs[i]
		if seen[m.ID] {
			continue
		}

		if snippet, ok := matchSnippet(m.Body, lowerQuery); ok {
			matches = append(matches, newMatch(m, "body", snippet))
		}
	}

	return &SearchResult{
		Query:        query,
		TotalMatches: len(matches),
		Results:      matches,
	}, nil
}

func newMatch(m models.Message, matchType, snippet string) SearchMatch {
	return SearchMatch{
		ID:         m.ID,
		CategoryID: m.CategoryID,
		Title:      m.Title,
		MatchType:  matchType,
		Snippet:    snippet,
		Timestamp:  m.Timestamp,
		Read:       m.Read,
	}
}

// matchSnippet finds lowerQuery in text and returns a snippet around the
// first hit. Multi-line text is searched line by line.
func matchSnippet(text, lowerQuery string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		lower := strings.ToLower(line)

		idx := strings.Index(lower, lowerQuery)
		if idx < 0 {
			continue
		}

		// Lower-casing can change byte lengths outside ASCII.
		if len(lower) != len(line) {
			return truncateLine(line, snippetMaxLen), true
		}

		return buildSnippet(line, idx, idx+len(lowerQuery)), true
	}

	return "", false
}

// buildSnippet creates a context snippet around a byte-offset match,
// bolding the matched text.
func buildSnippet(line string, start, end int) string {
	if start < 0 {
		start = 0
	}

	if end > len(line) {
		end = len(line)
	}

	if start >= end {
		return truncateLine(line, snippetMaxLen)
	}

	winStart := max(start-snippetContext, 0)
	winEnd := min(end+snippetContext, len(line))

	prefix := ""
	if winStart > 0 {
		prefix = "..."
	}

	suffix := ""
	if winEnd < len(line) {
		suffix = "..."
	}

	return prefix + line[winStart:start] + "**" + line[start:end] + "**" + line[end:winEnd] + suffix
}

// truncateLine shortens a line to maxLen bytes, adding ellipsis.
func truncateLine(line string, maxLen int) string {
	if len(line) <= maxLen {
		return line
	}

	return line[:maxLen] + "..."
}
