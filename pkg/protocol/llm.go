package protocol

// CompletionRequest is a single-turn request to a text completion API.
type CompletionRequest struct {
	Model       string  // empty = provider default
	System      string  // optional system prompt
	Prompt      string  // user content
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0 = provider default
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption for a completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// TotalTokens returns the combined prompt and completion token count.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}
