package domain

// LLMResponse is the result of one question-answering interaction. Token
// counts are summed across every model call made to produce Output.
type LLMResponse struct {
	Output       string     `json:"output"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Strategy     QAStrategy `json:"strategy"`
	Chunks       int        `json:"chunks"`
	// Truncated is set when the source file was cut at the read limit.
	Truncated bool `json:"truncated"`
}

// RunResult is the captured outcome of one script execution.
type RunResult struct {
	ReturnCode      int    `json:"return_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	TimedOut        bool   `json:"timed_out"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
}

// SearchResult lists the immediate children of a workspace directory.
type SearchResult struct {
	Directories []string `json:"directories"`
	Files       []string `json:"files"`
}
