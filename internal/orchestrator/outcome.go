package orchestrator

// Request asks for a document generated from a free-text prompt.
type Request struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	UseLLM    bool   `json:"use_llm"`
}

// Citation maps a [Source N] marker in the content to a resource.
type Citation struct {
	Number     int    `json:"number"`
	ResourceID string `json:"resource_id"`
	Label      string `json:"citation_label"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	URL        string `json:"url,omitempty"`
}

// Result is the payload of a Succeeded or Degraded outcome.
type Result struct {
	Content          string     `json:"content"`
	ResourcesCited   []Citation `json:"resources_cited"`
	NumResourcesUsed int        `json:"num_resources_used"`
	LLMUsed          bool       `json:"llm_used"`
	QuotaError       bool       `json:"quota_error"`
	Note             string     `json:"note,omitempty"`
}

// Outcome is one of Succeeded, Degraded or Failed.
type Outcome interface {
	outcome()
}

// Succeeded carries generated content with citations renumbered in
// first-use order.
type Succeeded struct {
	RequestID string
	Result    Result
}

// Degraded carries content synthesized from the retrieved resources because
// generation was disabled, unconfigured or refused for quota. Err holds the
// quota error when there was one.
type Degraded struct {
	RequestID string
	Result    Result
	Err       error
}

// Failed carries the error that stopped the request. No content is
// produced.
type Failed struct {
	RequestID string
	Err       error
}

func (Succeeded) outcome() {}
func (Degraded) outcome()  {}
func (Failed) outcome()    {}

// State is a step of a generation request.
type State string

const (
	StateReceived    State = "received"
	StateRetrieving  State = "retrieving"
	StatePromptBuilt State = "prompt_built"
	StateGenerating  State = "generating"
	StateSucceeded   State = "succeeded"
	StateDegraded    State = "degraded"
	StateFailed      State = "failed"
)
