package ai

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn sent to a conversational provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// ChatMessage carries either a plain string or a list of ContentPart.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageUrl *ImageUrl `json:"image_url,omitempty"`
}

type ImageUrl struct {
	Url string `json:"url"`
}

type ChatCompletion struct {
	Id      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Error   *Error   `json:"error"`
}

type Choice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Error is the error object of OpenAI-compatible APIs; Code is a string on
// OpenAI and a number on OpenRouter.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func NewChatRequest(model string, systemPrompt string, messages []Message) *ChatRequest {
	request := &ChatRequest{
		Model:       model,
		Temperature: 0.7,
	}
	if systemPrompt != "" {
		request.Messages = append(request.Messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return request
}
