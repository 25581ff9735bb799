package types

// OptimizeRequest is the body sent to the optimization service.
// Input is used by the dashboard-style endpoint, Code/Mode/OnlyOptimize by
// the deploy-style endpoint.
type OptimizeRequest struct {
	Input        string `json:"input,omitempty"`
	Code         string `json:"code,omitempty"`
	Mode         string `json:"mode,omitempty"`
	OnlyOptimize bool   `json:"onlyOptimize,omitempty"`
}

// OptimizeResponse is the optimization service reply.
type OptimizeResponse struct {
	Status        string `json:"status,omitempty"`
	OptimizedCode string `json:"optimized_code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunRequest is the body sent to an execution backend.
type RunRequest struct {
	Code        string `json:"code"`
	Mode        string `json:"mode"`
	WorkerCount int    `json:"worker_count,omitempty"`
}

// RunResponse is an execution backend reply. The structured fields are
// optional; when absent the metric is scraped from Output.
type RunResponse struct {
	Status         string   `json:"status,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	Output         string   `json:"output"`
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`
	ResultSummary  *string  `json:"result_summary,omitempty"`
	WorkerCount    int      `json:"worker_count,omitempty"`
	Error          string   `json:"error,omitempty"`
}
