package moderation

import (
	"sort"
	"strings"
)

type moderationRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Verdict is the classifier's decision on one piece of text.
type Verdict struct {
	Flagged bool
	// Categories lists the flagged categories, highest score first.
	Categories []string
	Scores     map[string]float64
}

// Summary renders the flagged categories for humans, e.g. "harassment, violence".
func (v Verdict) Summary() string {
	if len(v.Categories) == 0 {
		return "policy violation"
	}
	return strings.Join(v.Categories, ", ")
}

func verdictFrom(r moderationResult) Verdict {
	v := Verdict{Flagged: r.Flagged, Scores: r.CategoryScores}
	for name, on := range r.Categories {
		if on {
			v.Categories = append(v.Categories, name)
		}
	}
	sort.Slice(v.Categories, func(i, j int) bool {
		si, sj := r.CategoryScores[v.Categories[i]], r.CategoryScores[v.Categories[j]]
		if si != sj {
			return si > sj
		}
		return v.Categories[i] < v.Categories[j]
	})
	return v
}
