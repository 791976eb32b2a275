package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"Retoucher/core"
	"Retoucher/lib/sl"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

type PredictionInput struct {
	InputImage        string  `json:"input_image"`
	Prompt            string  `json:"prompt"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

type PredictionRequest struct {
	Version string          `json:"version"`
	Input   PredictionInput `json:"input"`
}

// Prediction is the state of a Replicate job. Output is kept raw because
// models return either a single url or a list of urls.
type Prediction struct {
	Id     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	Detail string          `json:"detail"`
	Urls   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

func (p *Prediction) terminal() bool {
	return p.Status == statusSucceeded || p.Status == statusFailed || p.Status == statusCanceled
}

type GeneratorOptions struct {
	BaseUrl      string
	ApiToken     string
	Version      string
	Steps        int
	Guidance     float64
	PollInterval time.Duration
	Timeout      time.Duration
}

// ReplicateGenerator produces edited images with a Replicate model.
type ReplicateGenerator struct {
	opts       GeneratorOptions
	httpClient *http.Client
	log        *slog.Logger
}

func NewReplicateGenerator(opts GeneratorOptions, log *slog.Logger) *ReplicateGenerator {
	opts.BaseUrl = strings.TrimSuffix(opts.BaseUrl, "/")
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	return &ReplicateGenerator{
		opts:       opts,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.With(sl.Module("replicate")),
	}
}

// Generate applies the instruction to the base image and returns the url of
// the result.
func (g *ReplicateGenerator) Generate(ctx context.Context, base core.ImageRef, instruction string) (core.ImageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	request := PredictionRequest{
		Version: g.opts.Version,
		Input: PredictionInput{
			InputImage:        string(base),
			Prompt:            instruction,
			NumInferenceSteps: g.opts.Steps,
			GuidanceScale:     g.opts.Guidance,
		},
	}
	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	prediction, err := g.do(ctx, http.MethodPost, g.opts.BaseUrl+"/predictions", jsonBytes)
	if err != nil {
		return "", err
	}
	g.log.With(
		slog.String("id", prediction.Id),
		slog.String("status", prediction.Status),
	).Debug("prediction created")

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()
	for !prediction.terminal() {
		select {
		case <-ctx.Done():
			return "", core.NewCollaboratorError("replicate", fmt.Errorf("waiting for prediction %s: %w", prediction.Id, ctx.Err()))
		case <-ticker.C:
		}
		url := prediction.Urls.Get
		if url == "" {
			url = g.opts.BaseUrl + "/predictions/" + prediction.Id
		}
		prediction, err = g.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
	}

	if prediction.Status != statusSucceeded {
		return "", core.CollaboratorFailure("replicate", "prediction %s %s: %v", prediction.Id, prediction.Status, prediction.Error)
	}
	return ParseOutput(prediction.Output)
}

func (g *ReplicateGenerator) do(ctx context.Context, method, url string, payload []byte) (*Prediction, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.opts.ApiToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, core.NewCollaboratorError("replicate", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			g.log.Warn("closing response body", sl.Err(err))
		}
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewCollaboratorError("replicate", fmt.Errorf("reading response body: %w", err))
	}

	var prediction Prediction
	decodeErr := json.Unmarshal(data, &prediction)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if prediction.Detail != "" {
			return nil, core.CollaboratorFailure("replicate", "status %d: %s", resp.StatusCode, prediction.Detail)
		}
		return nil, core.CollaboratorFailure("replicate", "unexpected status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, core.NewCollaboratorError("replicate", fmt.Errorf("decoding response: %w", decodeErr))
	}
	return &prediction, nil
}

// ParseOutput accepts a single url or a non-empty list whose first element
// is a url. Anything else is an invalid output format.
func ParseOutput(raw json.RawMessage) (core.ImageRef, error) {
	invalid := &core.CollaboratorError{Op: "replicate", Reason: "unexpected output", Err: core.ErrInvalidOutputFormat}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single = strings.TrimSpace(single); single == "" {
			return "", invalid
		}
		return core.ImageRef(single), nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || strings.TrimSpace(list[0]) == "" {
			return "", invalid
		}
		return core.ImageRef(strings.TrimSpace(list[0])), nil
	}
	return "", invalid
}
