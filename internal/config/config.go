// Package config resolves the process Settings from the
// environment, in the same getEnvDefault style the orchestrator's
// task executor uses for its own service URLs — no flags or config
// file library, since configuration loading here stays a thin,
// one-shot env read rather than a reloadable settings layer.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
	"github.com/swarmguard/swarmctl/internal/worker"
)

// Settings is the resolved process configuration: swarm.Config plus
// the handful of deployment knobs (ports, NATS, dead-letter path) that
// sit outside a single run.
type Settings struct {
	HTTPAddr       string
	NATSURL        string
	NATSSubject    string
	DeadLetterPath string
	OTELService    string

	TotalBudget              int
	MaxCost                  float64
	OrchestratorReserveRatio float64
	MaxTokensPerWorker       int
	MaxConcurrency           int
	WorkerRetries            int
	MaxDispatchesPerTask     int
	ConsecutiveTimeoutLimit  int
	QualityGates             bool
	QualityGateThreshold     int
	DispatchStaggerMs        int

	Workers          []worker.Role
	TaskTypeTimeouts map[taskqueue.TaskType]time.Duration
}

// Load resolves Settings from the environment, falling back to the
// defaults a local dev run needs with nothing set.
func Load() Settings {
	return Settings{
		HTTPAddr:       getEnvDefault("SWARM_HTTP_ADDR", ":8080"),
		NATSURL:        getEnvDefault("SWARM_NATS_URL", "nats://localhost:4222"),
		NATSSubject:    getEnvDefault("SWARM_NATS_SUBJECT", "swarm.events"),
		DeadLetterPath: getEnvDefault("SWARM_DEADLETTER_PATH", "swarmctl-deadletters.db"),
		OTELService:    getEnvDefault("SWARM_SERVICE_NAME", "swarmctl"),

		TotalBudget:              getEnvIntDefault("SWARM_TOTAL_BUDGET_TOKENS", 200_000),
		MaxCost:                  getEnvFloatDefault("SWARM_MAX_COST_USD", 25.0),
		OrchestratorReserveRatio: getEnvFloatDefault("SWARM_ORCHESTRATOR_RESERVE_RATIO", 0.15),
		MaxTokensPerWorker:       getEnvIntDefault("SWARM_MAX_TOKENS_PER_WORKER", 16_000),
		MaxConcurrency:           getEnvIntDefault("SWARM_MAX_CONCURRENCY", 4),
		WorkerRetries:            getEnvIntDefault("SWARM_WORKER_RETRIES", 2),
		MaxDispatchesPerTask:     getEnvIntDefault("SWARM_MAX_DISPATCHES_PER_TASK", 3),
		ConsecutiveTimeoutLimit:  getEnvIntDefault("SWARM_CONSECUTIVE_TIMEOUT_LIMIT", 3),
		QualityGates:             getEnvBoolDefault("SWARM_QUALITY_GATES_ENABLED", true),
		QualityGateThreshold:     getEnvIntDefault("SWARM_QUALITY_GATE_THRESHOLD", 8),
		DispatchStaggerMs:        getEnvIntDefault("SWARM_DISPATCH_STAGGER_MS", 0),

		Workers:          loadWorkers(),
		TaskTypeTimeouts: loadTaskTypeTimeouts(),
	}
}

// loadTaskTypeTimeouts lets a deployment override the per-task-type
// dispatch timeout without touching the worker pool's built-in
// defaults for types left unset.
func loadTaskTypeTimeouts() map[taskqueue.TaskType]time.Duration {
	overrides := map[taskqueue.TaskType]string{
		taskqueue.TaskResearch:  "SWARM_TIMEOUT_RESEARCH",
		taskqueue.TaskAnalyze:   "SWARM_TIMEOUT_ANALYZE",
		taskqueue.TaskMerge:     "SWARM_TIMEOUT_MERGE",
		taskqueue.TaskImplement: "SWARM_TIMEOUT_IMPLEMENT",
		taskqueue.TaskTest:      "SWARM_TIMEOUT_TEST",
		taskqueue.TaskDesign:    "SWARM_TIMEOUT_DESIGN",
		taskqueue.TaskFix:       "SWARM_TIMEOUT_FIX",
	}
	timeouts := make(map[taskqueue.TaskType]time.Duration)
	for taskType, key := range overrides {
		if os.Getenv(key) == "" {
			continue
		}
		timeouts[taskType] = getEnvDurationDefault(key, 0)
	}
	return timeouts
}

// loadWorkers reads SWARM_WORKERS as a semicolon-separated list of
// name:model:cap1,cap2 entries, falling back to a single generalist
// role with every task type capability when unset.
func loadWorkers() []worker.Role {
	raw := os.Getenv("SWARM_WORKERS")
	if raw == "" {
		return []worker.Role{{
			Name:  "generalist",
			Model: getEnvDefault("SWARM_DEFAULT_MODEL", "claude-sonnet"),
			Capabilities: []taskqueue.TaskType{
				taskqueue.TaskImplement, taskqueue.TaskTest, taskqueue.TaskResearch,
				taskqueue.TaskAnalyze, taskqueue.TaskMerge, taskqueue.TaskDesign, taskqueue.TaskFix,
			},
		}}
	}

	var roles []worker.Role
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		role := worker.Role{Name: fields[0]}
		if len(fields) > 1 {
			role.Model = fields[1]
		}
		if len(fields) > 2 {
			for _, c := range strings.Split(fields[2], ",") {
				if c = strings.TrimSpace(c); c != "" {
					role.Capabilities = append(role.Capabilities, taskqueue.TaskType(c))
				}
			}
		}
		roles = append(roles, role)
	}
	return roles
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
