package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// HTTPSpawner calls out to an external agent-runner service over HTTP,
// the same connection-pooled client shape and inference-endpoint
// calling convention as the model registry integration, generalized
// from a single inference call to a full agent spawn.
type HTTPSpawner struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPSpawner builds a spawner pointed at baseURL (e.g.
// http://agent-runner:8080). baseURL falls back to AGENT_RUNNER_URL,
// then a local default, when empty.
func NewHTTPSpawner(baseURL string) *HTTPSpawner {
	if baseURL == "" {
		baseURL = getEnvDefault("AGENT_RUNNER_URL", "http://agent-runner:8080")
	}
	return &HTTPSpawner{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer("collaborators-spawner"),
	}
}

type spawnRequest struct {
	Role   string `json:"role"`
	Prompt string `json:"prompt"`
}

type spawnResponse struct {
	Success       bool                     `json:"success"`
	Output        string                   `json:"output"`
	TokensUsed    int                      `json:"tokensUsed"`
	DurationMs    int64                    `json:"durationMs"`
	ToolCalls     int                      `json:"toolCalls"`
	FilesModified []string                 `json:"filesModified"`
	Closure       *taskqueue.ClosureReport `json:"closure,omitempty"`
}

// SpawnAgent posts a role+prompt to the agent runner and translates its
// response into a SpawnResult. Transport, status and decode failures
// are returned as wrapped errors; the worker pool is the layer that
// turns errors and timeouts into task outcomes.
func (h *HTTPSpawner) SpawnAgent(ctx context.Context, roleName, prompt string) (SpawnResult, error) {
	ctx, span := h.tracer.Start(ctx, "collaborators.spawn_agent",
		trace.WithAttributes(attribute.String("role", roleName)))
	defer span.End()

	body, err := json.Marshal(spawnRequest{Role: roleName, Prompt: prompt})
	if err != nil {
		return SpawnResult{}, fmt.Errorf("marshal spawn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/agents/spawn", bytes.NewReader(body))
	if err != nil {
		return SpawnResult{}, fmt.Errorf("build spawn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return SpawnResult{}, fmt.Errorf("spawn agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return SpawnResult{}, fmt.Errorf("spawn agent: status %d: %s", resp.StatusCode, string(raw))
	}

	var out spawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SpawnResult{}, fmt.Errorf("decode spawn response: %w", err)
	}

	return SpawnResult{
		Success:       out.Success,
		Output:        out.Output,
		TokensUsed:    out.TokensUsed,
		DurationMs:    out.DurationMs,
		ToolCalls:     out.ToolCalls,
		FilesModified: out.FilesModified,
		ClosureReport: out.Closure,
	}, nil
}

// HTTPDecomposer asks an external planning service to break a goal (or
// an overly complex task, during micro-decomposition) into subtasks.
type HTTPDecomposer struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPDecomposer builds a decomposer pointed at baseURL, falling
// back to PLANNER_URL then a local default when empty.
func NewHTTPDecomposer(baseURL string) *HTTPDecomposer {
	if baseURL == "" {
		baseURL = getEnvDefault("PLANNER_URL", "http://planner:8080")
	}
	return &HTTPDecomposer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		tracer:  otel.Tracer("collaborators-decomposer"),
	}
}

type decomposeRequest struct {
	Goal    string            `json:"goal"`
	Context map[string]string `json:"context,omitempty"`
}

type decomposeResponse struct {
	Strategy string        `json:"strategy"`
	Subtasks []SubtaskSpec `json:"subtasks"`
}

// Decompose posts the goal and optional parent-task context to the
// planner and returns its proposed subtask graph.
func (h *HTTPDecomposer) Decompose(ctx context.Context, goal string, taskContext map[string]string) (DecompositionResult, error) {
	ctx, span := h.tracer.Start(ctx, "collaborators.decompose")
	defer span.End()

	body, err := json.Marshal(decomposeRequest{Goal: goal, Context: taskContext})
	if err != nil {
		return DecompositionResult{}, fmt.Errorf("marshal decompose request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/decompose", bytes.NewReader(body))
	if err != nil {
		return DecompositionResult{}, fmt.Errorf("build decompose request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return DecompositionResult{}, fmt.Errorf("decompose: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return DecompositionResult{}, fmt.Errorf("decompose: status %d: %s", resp.StatusCode, string(raw))
	}

	var out decomposeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DecompositionResult{}, fmt.Errorf("decode decompose response: %w", err)
	}
	return DecompositionResult{Strategy: out.Strategy, Subtasks: out.Subtasks}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
