package storage

import (
	"strings"

	"github.com/QuietCraftsmanship/AI/pkg/utils"
)

const previewLength = 80

// Summary is the list view of a round, without its messages.
type Summary struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Legs       int    `json:"legs"`
	Messages   int    `json:"message_count"`
	DurationMs int64  `json:"duration_ms"`
	Preview    string `json:"preview"`
}

// Summarize converts rounds, oldest first as drivers list them, into
// summaries newest first. An empty provider matches all; limit 0 means no
// limit.
func Summarize(rounds []*Round, provider string, limit int) []Summary {
	out := make([]Summary, 0, len(rounds))
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		if provider != "" && !strings.EqualFold(r.Provider, provider) {
			continue
		}
		out = append(out, r.Summary())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Summary returns the list view of r. The preview collapses whitespace.
func (r *Round) Summary() Summary {
	return Summary{
		ID:         r.ID,
		Provider:   r.Provider,
		Model:      r.Model,
		Legs:       r.Legs,
		Messages:   len(r.Messages),
		DurationMs: r.CompletedAt.Sub(r.StartedAt).Milliseconds(),
		Preview:    utils.Truncate(strings.Join(strings.Fields(r.Text), " "), previewLength),
	}
}
