package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response wraps model output and optional usage data.
type Response struct {
	Text    string
	Backend string
	Model   string
	Usage   *Usage
}

// CallResult is the outcome of Invoker.Call. Exactly one of Text or Err is
// meaningful, selected by Success.
type CallResult struct {
	Success    bool   `json:"success"`
	Text       string `json:"text,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
	Err        *Error `json:"-"`
	ErrorKind  Kind   `json:"error,omitempty"`
	Retries    int    `json:"retries"`
	DurationMs int64  `json:"duration_ms"`
}

func normalizeUsage(u *Usage) *Usage {
	if u == nil {
		return nil
	}
	out := *u
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return &out
}
