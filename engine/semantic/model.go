package semantic

import "github.com/WessleyAI/diagtrace/engine/domain"

// Match is one similar past session.
type Match struct {
	SessionID    string          `json:"session_id"`
	Score        float32         `json:"score"`
	Module       string          `json:"module"`
	RootCategory domain.Category `json:"root_category"`
	Confidence   float64         `json:"confidence"`
	Source       string          `json:"source,omitempty"`
}
