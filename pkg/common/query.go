package common

import "fmt"

// QueryMode selects the retrieval strategy.
type QueryMode string

const (
	ModeNaive  QueryMode = "naive"
	ModeLocal  QueryMode = "local"
	ModeGlobal QueryMode = "global"
	ModeHybrid QueryMode = "hybrid"
)

// ParseQueryMode validates a mode name. An empty name means hybrid.
func ParseQueryMode(s string) (QueryMode, error) {
	switch m := QueryMode(s); m {
	case "":
		return ModeHybrid, nil
	case ModeNaive, ModeLocal, ModeGlobal, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown query mode %q", s)
	}
}

// ChatTurn is one message of a prior conversation.
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// QueryParam controls a single query. Zero values fall back to the engine
// defaults.
type QueryParam struct {
	Mode QueryMode
	TopK int
	// ResponseType describes the wanted answer shape, for example
	// "Multiple Paragraphs" or "Bullet Points".
	ResponseType string
	// OnlyNeedContext returns the assembled context instead of an answer.
	OnlyNeedContext bool
	// OnlyNeedPrompt returns the final system prompt instead of an answer.
	OnlyNeedPrompt bool

	MaxTokenForTextUnit      int
	MaxTokenForLocalContext  int
	MaxTokenForGlobalContext int

	History []ChatTurn
}
