package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	genai "google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptimizer asks Gemini directly for the parallelized program, trying
// each model in order until one answers with code.
type GeminiOptimizer struct {
	models      contentGenerator
	Models      []string
	WorkerCount int
	Logger      *slog.Logger
}

// NewGeminiOptimizer creates a Gemini API backed optimizer.
func NewGeminiOptimizer(ctx context.Context, apiKey string, models []string, workerCount int) (*GeminiOptimizer, error) {
	if len(models) == 0 {
		return nil, errors.New("no gemini models configured")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiOptimizer{models: cli.Models, Models: models, WorkerCount: workerCount}, nil
}

func (g *GeminiOptimizer) Optimize(ctx context.Context, source string) (string, error) {
	prompt := BuildOptimizePrompt(source, g.WorkerCount)
	var lastErr error
	for _, model := range g.Models {
		resp, err := g.models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			lastErr = err
			if g.Logger != nil {
				g.Logger.Warn("gemini model failed", "model", model, "error", err)
			}
			if ctx.Err() != nil {
				return "", &ConnectivityError{URL: "gemini:" + model, Err: ctx.Err()}
			}
			continue
		}
		code := stripCodeFence(firstText(resp))
		if strings.TrimSpace(code) != "" {
			return code, nil
		}
		lastErr = ErrEmptyArtifact
	}
	if lastErr == nil {
		lastErr = ErrEmptyArtifact
	}
	return "", &ServiceError{Message: fmt.Sprintf("AI Error: %v", lastErr)}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

const optimizePromptTemplate = `Target: Convert the Python program below to use 'mpi4py' on a distributed cluster, or explain why it is unsuitable.
Context: MPI cluster with %d worker processes.

[SUITABILITY]
If the program has strong sequential dependencies or the workload is trivial (e.g. N < 1000),
return a script that only prints: print("NOTIFICATION: <reason it is not suitable>").
Never parallelize when it would be slower than a single core.

[CONVERSION RULES]
- Use exactly 'from mpi4py import MPI'.
- Import numpy as np, sys and time.
- Use dtype=np.int32 for every NumPy array exchanged with MPI.INT.
- Use the buffer methods comm.Scatterv, comm.Gatherv and comm.Sendrecv.
- Always .copy() slices that are sent or kept.

[OUTPUT CONTRACT]
Rank 0 must print exactly these two lines after the computation:
Result: <short summary of the result>
Time taken: <elapsed seconds with 4 decimals> seconds

Return ONLY raw Python code. No markdown, no explanations.

Input Code:
%s`

// BuildOptimizePrompt renders the conversion prompt for source.
func BuildOptimizePrompt(source string, workerCount int) string {
	if workerCount <= 0 {
		workerCount = 1
	}
	return fmt.Sprintf(optimizePromptTemplate, workerCount, source)
}
