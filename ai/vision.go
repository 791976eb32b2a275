package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"Retoucher/core"
)

const describePrompt = `You are an expert in real-estate photography. Answer in French.
Look at the photo and answer the user's request: %s`

const inspectPrompt = `You are an expert in real-estate photography. Inspect this property photo and list
the visual issues that would put off a buyer (dishes, clutter, poor lighting, personal decoration,
visible pipes or unfinished work, oppressive sloped ceilings...). Write issues and summary in French.
Respond ONLY with a JSON object, no other text:
{"issues": ["short issue", "..."], "summary": "one sentence overall assessment"}`

// Analysis is the structured result of a photo inspection.
type Analysis struct {
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// VisionClient sends images to a multimodal chat model.
type VisionClient struct {
	client *CompletionClient
}

func NewVisionClient(client *CompletionClient) *VisionClient {
	return &VisionClient{client: client}
}

// Describe answers a free-form question about the photo.
func (v *VisionClient) Describe(ctx context.Context, ref core.ImageRef, request string) (string, error) {
	if strings.TrimSpace(request) == "" {
		request = "décris la photo et ses points à améliorer"
	}
	return v.client.send(ctx, v.request(ref, fmt.Sprintf(describePrompt, request)))
}

// Inspect asks for a list of issues and a summary.
func (v *VisionClient) Inspect(ctx context.Context, ref core.ImageRef) (*Analysis, error) {
	answer, err := v.client.send(ctx, v.request(ref, inspectPrompt))
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(answer)
}

func (v *VisionClient) request(ref core.ImageRef, prompt string) *ChatRequest {
	return &ChatRequest{
		Model:     v.client.model,
		MaxTokens: 800,
		Messages: []ChatMessage{
			{
				Role: RoleUser,
				Content: []ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageUrl: &ImageUrl{Url: string(ref)}},
				},
			},
		},
	}
}

// ParseAnalysis decodes the JSON answer, tolerating markdown code fences.
func ParseAnalysis(answer string) (*Analysis, error) {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	answer = strings.TrimSpace(answer)

	var analysis Analysis
	if err := json.Unmarshal([]byte(answer), &analysis); err != nil {
		return nil, core.NewCollaboratorError("vision", fmt.Errorf("parsing JSON: %w", err))
	}
	issues := analysis.Issues[:0]
	for _, issue := range analysis.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			issues = append(issues, issue)
		}
	}
	analysis.Issues = issues
	return &analysis, nil
}
