package client

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yourorg/speedbench/pkg/types"
)

// Optimizer turns a source document into its parallelized variant.
type Optimizer interface {
	Optimize(ctx context.Context, source string) (string, error)
}

// OptimizationClient calls the optimization service over HTTP.
type OptimizationClient struct {
	BaseURL string
	Path    string
	// Variant selects the request body: "input" sends {"input": source},
	// "deploy" sends {"code": source, "mode": "cluster", "onlyOptimize": true}.
	Variant    string
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *OptimizationClient) Optimize(ctx context.Context, source string) (string, error) {
	req := types.OptimizeRequest{Input: source}
	if c.Variant == "deploy" {
		req = types.OptimizeRequest{Code: source, Mode: string(types.ModeCluster), OnlyOptimize: true}
	}
	p := poster{baseURL: c.BaseURL, httpClient: c.HTTPClient, maxRetries: c.MaxRetries, logger: c.Logger}

	var resp types.OptimizeResponse
	if err := p.postJSON(ctx, c.Path, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Error) != "" {
		return "", &ServiceError{StatusCode: http.StatusOK, Message: resp.Error}
	}
	code := stripCodeFence(resp.OptimizedCode)
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyArtifact
	}
	return code, nil
}
