package domain

// Message is one turn in a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system turn
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user turn
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant turn
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Usage holds token counters reported for a single completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageStats holds cumulative counters for one chat client
type UsageStats struct {
	TotalCalls            int `json:"total_calls"`
	TotalPromptTokens     int `json:"total_prompt_tokens"`
	TotalCompletionTokens int `json:"total_completion_tokens"`
	TotalTokens           int `json:"total_tokens"`
}

// SolveResult is the outcome of one (instance, strategy) attempt
type SolveResult struct {
	InstanceID     string   `json:"instance_id"`
	Repo           string   `json:"repo,omitempty"`
	Patch          string   `json:"patch"`
	Strategy       Strategy `json:"strategy"`
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_sec"`
	TokensUsed     int      `json:"tokens_used"`
	// Applied is set only when the patch was checked against the base revision
	Applied *bool `json:"applied,omitempty"`
}

// Failed builds a failed result carrying an error message
func Failed(inst TaskInstance, strategy Strategy, errMsg string) SolveResult {
	return SolveResult{
		InstanceID: inst.InstanceID,
		Repo:       inst.Repo,
		Strategy:   strategy,
		Error:      errMsg,
	}
}
