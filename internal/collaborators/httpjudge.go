package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/swarmctl/internal/quality"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

// HTTPJudge delegates acceptance judging to an external reviewer
// service, the same request/response shape as HTTPSpawner and
// HTTPDecomposer use for their respective collaborators.
type HTTPJudge struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPJudge builds a judge pointed at baseURL, falling back to
// QUALITY_JUDGE_URL then a local default when empty.
func NewHTTPJudge(baseURL string) *HTTPJudge {
	if baseURL == "" {
		baseURL = getEnvDefault("QUALITY_JUDGE_URL", "http://quality-judge:8080")
	}
	return &HTTPJudge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		tracer:  otel.Tracer("collaborators-judge"),
	}
}

type judgeRequest struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description"`
	Output      string `json:"output"`
	Criteria    string `json:"criteria"`
}

type judgeResponse struct {
	Pass  bool `json:"pass"`
	Score int  `json:"score"`
}

// Judge posts the task's output and acceptance criteria to the
// reviewer service and returns its verdict.
func (h *HTTPJudge) Judge(ctx context.Context, task taskqueue.Task, output, criteria string) (quality.Verdict, error) {
	ctx, span := h.tracer.Start(ctx, "collaborators.judge")
	defer span.End()

	body, err := json.Marshal(judgeRequest{
		TaskID:      task.ID,
		Description: task.Description,
		Output:      output,
		Criteria:    criteria,
	})
	if err != nil {
		return quality.Verdict{}, fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/judge", bytes.NewReader(body))
	if err != nil {
		return quality.Verdict{}, fmt.Errorf("build judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return quality.Verdict{}, fmt.Errorf("judge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return quality.Verdict{}, fmt.Errorf("judge: status %d: %s", resp.StatusCode, string(raw))
	}

	var out judgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return quality.Verdict{}, fmt.Errorf("decode judge response: %w", err)
	}
	return quality.Verdict{Pass: out.Pass, Score: out.Score}, nil
}
