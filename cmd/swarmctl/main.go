package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/swarmctl/internal/collaborators"
	"github.com/swarmguard/swarmctl/internal/config"
	"github.com/swarmguard/swarmctl/internal/deadletter"
	"github.com/swarmguard/swarmctl/internal/eventbus/logbus"
	"github.com/swarmguard/swarmctl/internal/eventbus/natsbus"
	"github.com/swarmguard/swarmctl/internal/events"
	"github.com/swarmguard/swarmctl/internal/obs"
	"github.com/swarmguard/swarmctl/internal/runsched"
	"github.com/swarmguard/swarmctl/internal/swarm"
	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

type runRequest struct {
	Goal string `json:"goal"`
	Cron string `json:"cron,omitempty"`
}

type runRecord struct {
	RunID  string           `json:"runId"`
	Goal   string           `json:"goal"`
	Status string           `json:"status"`
	Stats  *events.RunStats `json:"stats,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type runStore struct {
	mu      sync.RWMutex
	records map[string]*runRecord
}

func newRunStore() *runStore { return &runStore{records: make(map[string]*runRecord)} }

func (s *runStore) put(r *runRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.RunID] = r
}

func (s *runStore) get(id string) (*runRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

type server struct {
	settings config.Settings
	logger   *slog.Logger
	meter    metric.Meter
	tracer   trace.Tracer
	nc       *nats.Conn
	dl       *deadletter.Store
	runs     *runStore
	sched    *runsched.Scheduler
}

func (srv *server) orchestratorConfig() swarm.Config {
	return swarm.Config{
		TotalBudget:              srv.settings.TotalBudget,
		MaxCost:                  srv.settings.MaxCost,
		OrchestratorReserveRatio: srv.settings.OrchestratorReserveRatio,
		MaxTokensPerWorker:       srv.settings.MaxTokensPerWorker,
		MaxConcurrency:           srv.settings.MaxConcurrency,
		WorkerRetries:            srv.settings.WorkerRetries,
		MaxDispatchesPerTask:     srv.settings.MaxDispatchesPerTask,
		ConsecutiveTimeoutLimit:  srv.settings.ConsecutiveTimeoutLimit,
		QualityGateThreshold:     srv.settings.QualityGateThreshold,
		QualityGates:             srv.settings.QualityGates,
		DispatchStaggerMs:        srv.settings.DispatchStaggerMs,
		Workers:                  srv.settings.Workers,
		TaskTypeTimeouts:         srv.settings.TaskTypeTimeouts,
	}
}

// runGoal wires a fresh Orchestrator for one goal, fans its event
// stream out to the log and (if configured) NATS sinks, and records
// failed tasks to the dead-letter store once the run completes.
func (srv *server) runGoal(ctx context.Context, goal string) (events.RunStats, error) {
	deps := swarm.Deps{
		Decomposer: collaborators.NewHTTPDecomposer(""),
		Spawner:    collaborators.NewHTTPSpawner(""),
		Judge:      collaborators.NewHTTPJudge(""),
		Artifacts:  collaborators.FilesystemArtifactCheck{},
		Logger:     srv.logger,
		Meter:      srv.meter,
		Tracer:     srv.tracer,
	}
	o := swarm.New(srv.orchestratorConfig(), deps)

	sub := o.Events(128)
	var wg sync.WaitGroup
	logCh := make(chan events.Event, 128)
	natsCh := make(chan events.Event, 128)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logbus.Sink(ctx, srv.logger, logCh)
	}()
	if srv.nc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := natsbus.Sink(ctx, srv.nc, srv.settings.NATSSubject, natsCh); err != nil {
				srv.logger.Error("nats sink stopped", "error", err)
			}
		}()
	}

	go func() {
		defer close(logCh)
		defer close(natsCh)
		for e := range sub {
			logCh <- e
			if srv.nc != nil {
				natsCh <- e
			}
		}
	}()

	stats, err := o.Run(ctx, goal)

	if srv.dl != nil {
		for _, task := range o.Snapshot() {
			if task.Status == taskqueue.StatusFailed {
				if dlErr := srv.dl.Record(ctx, o.RunID(), task, "terminal failure"); dlErr != nil {
					srv.logger.Error("dead letter record failed", "taskId", task.ID, "error", dlErr)
				}
			}
		}
	}

	wg.Wait()
	return stats, err
}

func (srv *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Goal == "" {
		http.Error(w, "goal is required", http.StatusBadRequest)
		return
	}

	if req.Cron != "" {
		entryID, err := srv.sched.Add(r.Context(), runsched.Entry{Goal: req.Goal, CronExpr: req.Cron, Enabled: true})
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid cron entry: %v", err), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"scheduled": true, "entryId": entryID, "goal": req.Goal, "cron": req.Cron})
		return
	}

	record := &runRecord{RunID: uuid.NewString(), Goal: req.Goal, Status: "running"}
	srv.runs.put(record)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		stats, err := srv.runGoal(ctx, req.Goal)
		if err != nil {
			record.Status = "error"
			record.Error = err.Error()
		} else {
			record.Status = "completed"
			record.Stats = &stats
		}
		srv.runs.put(record)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(record)
}

func (srv *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	record, ok := srv.runs.get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

func main() {
	settings := config.Load()
	logger := obs.InitLogging(settings.OTELService)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := obs.InitTracer(ctx, settings.OTELService)
	shutdownMetrics, meter := obs.InitMetrics(ctx, settings.OTELService)
	tracer := otel.Tracer(settings.OTELService)

	var nc *nats.Conn
	if settings.NATSURL != "" {
		var err error
		nc, err = nats.Connect(settings.NATSURL, nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn("nats connect failed, running without event publishing", "error", err)
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	dl, err := deadletter.Open(settings.DeadLetterPath, meter)
	if err != nil {
		logger.Error("dead letter store open failed", "error", err)
	} else {
		defer dl.Close()
	}

	srv := &server{settings: settings, logger: logger, meter: meter, tracer: tracer, nc: nc, dl: dl, runs: newRunStore()}
	srv.sched = runsched.New(func(ctx context.Context, goal string) error {
		_, err := srv.runGoal(ctx, goal)
		return err
	}, logger, meter)
	srv.sched.Start()
	defer func() {
		_ = srv.sched.Stop(context.Background())
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/runs", srv.handleCreateRun)
	mux.HandleFunc("/v1/runs/get", srv.handleGetRun)

	httpSrv := &http.Server{Addr: settings.HTTPAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()
	logger.Info("swarmctl started", "addr", settings.HTTPAddr)

	<-ctx.Done()
	logger.Info("shutdown initiated")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	obs.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	logger.Info("shutdown complete")
}
