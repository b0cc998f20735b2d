// Command server runs the Pipelit workflow execution engine behind a
// minimal HTTP surface. Workflow authoring, credential management, and
// the full CRUD API are external collaborators; this binary only runs
// graphs that are already stored and streams their progress.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theuselessai/pipelit/internal/application/builder"
	"github.com/theuselessai/pipelit/internal/application/dispatcher"
	"github.com/theuselessai/pipelit/internal/application/engine"
	"github.com/theuselessai/pipelit/internal/application/graphcache"
	"github.com/theuselessai/pipelit/internal/application/observer"
	"github.com/theuselessai/pipelit/internal/application/scheduler"
	"github.com/theuselessai/pipelit/internal/config"
	"github.com/theuselessai/pipelit/internal/infrastructure/cache"
	"github.com/theuselessai/pipelit/internal/infrastructure/logger"
	"github.com/theuselessai/pipelit/internal/infrastructure/storage"
	"github.com/theuselessai/pipelit/internal/infrastructure/store"
	"github.com/theuselessai/pipelit/pkg/executor"
	"github.com/theuselessai/pipelit/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)
	appLogger.Info("starting pipelit engine", "port", cfg.Server.Port)

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()
	redisClient := redisCache.Client()

	// Entity rows live in Postgres when a DSN is configured, in Redis
	// otherwise. Ephemeral state, checkpoints, queues and the broadcast
	// bus always stay on Redis.
	var (
		workflows     engine.WorkflowLoader
		executions    engine.ExecutionStore
		epics         engine.EpicStore
		scheduledJobs scheduler.Store
	)
	if cfg.Database.DSN != "" {
		db, err := storage.NewDB(&storage.Config{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			Debug:        cfg.Database.Debug,
		})
		if err != nil {
			appLogger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer storage.Close(db)
		workflows = storage.NewWorkflowRepository(db)
		executions = storage.NewExecutionRepository(db)
		epics = storage.NewEpicRepository(db)
		scheduledJobs = storage.NewScheduledJobRepository(db)
	} else {
		workflows = store.NewWorkflowStore(redisClient)
		executions = store.NewExecutionStore(redisClient)
		epics = store.NewEpicStore(redisClient)
		scheduledJobs = store.NewScheduledJobStore(redisClient)
	}
	checkpoints := engine.NewCheckpointStore(redisClient)

	specs := registerNodeTypeSpecs()
	execManager := registerStructuralExecutors(executor.NewManager())

	b := builder.New(specs)
	planCache := graphcache.New(b, redisClient, graphcache.Options{})
	cacheCtx, cancelCache := context.WithCancel(context.Background())
	defer cancelCache()
	planCache.Subscribe(cacheCtx)

	obsManager := observer.NewObserverManager(observer.WithLogger(appLogger))
	if cfg.Observer.EnableLogger {
		_ = obsManager.Register(observer.NewLoggerObserver(appLogger))
	}
	wsHub := observer.NewWebSocketHub(appLogger)
	if cfg.Observer.EnableWebSocket {
		_ = obsManager.Register(observer.NewWebSocketObserver(wsHub))
	}
	if cfg.Observer.EnableHTTP && cfg.Observer.HTTPCallbackURL != "" {
		_ = obsManager.Register(observer.NewHTTPCallbackObserver(
			cfg.Observer.HTTPCallbackURL,
			observer.WithHTTPMethod(cfg.Observer.HTTPMethod),
			observer.WithHTTPTimeout(cfg.Observer.HTTPTimeout),
			observer.WithHTTPRetry(cfg.Observer.HTTPMaxRetries, cfg.Observer.HTTPRetryDelay, 2.0),
			observer.WithHTTPHeaders(cfg.Observer.HTTPHeaders),
		))
	}
	notifier := engine.NewObserverNotifier(obsManager, engine.WithSlugResolver(workflows))

	redisDispatcher := dispatcher.New(redisClient)

	orch := engine.New(
		workflows,
		executions,
		epics,
		planCache,
		b,
		execManager,
		redisDispatcher,
		checkpoints,
		notifier,
	)

	sched := scheduler.New(scheduledJobs, redisDispatcher)
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sched.Start(schedCtx)
	defer sched.Stop()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go runDispatchWorker(dispatchCtx, appLogger, redisDispatcher, orch)
	go runScheduledExecutionWorker(dispatchCtx, appLogger, redisDispatcher, scheduledJobs, executions, orch)

	router := newRouter(cfg, appLogger, orch, sched, executions, workflows, wsHub)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("graceful shutdown failed", "error", err)
	}
}

// registerNodeTypeSpecs freezes the component-type contracts. Port shapes
// beyond ANY/ANY are the authoring layer's concern; this registry only
// needs enough structure for the builder's sub-component and
// port-compatibility checks to run.
func registerNodeTypeSpecs() *executor.SpecRegistry {
	specs := executor.NewSpecRegistry()
	anyPort := executor.Port{Name: "value", Type: executor.PortTypeAny}

	register := func(componentType models.ComponentType, required ...executor.SubComponentKind) {
		_ = specs.Register(&executor.NodeTypeSpec{
			ComponentType:         string(componentType),
			Inputs:                []executor.Port{anyPort},
			Outputs:               []executor.Port{anyPort},
			Executable:            true,
			RequiredSubcomponents: required,
		})
	}

	register(models.ComponentTypeTrigger)
	register(models.ComponentTypeAgent, executor.SubComponentModel)
	register(models.ComponentTypeTool)
	register(models.ComponentTypeSwitch)
	register(models.ComponentTypeLoop)
	register(models.ComponentTypeSubworkflow)
	register(models.ComponentTypeTransform)
	return specs
}

// registerStructuralExecutors wires passthrough bodies for the control-flow
// component types so a freshly booted engine can run a graph before any
// real component is registered. Agent/tool bodies that talk to an LLM
// provider, external API, or file store must be registered by the
// embedding application before it triggers a workflow that uses them.
func registerStructuralExecutors(mgr executor.Manager) executor.Manager {
	passthrough := executor.NewExecutorFunc(
		func(ctx context.Context, cfg map[string]any, view executor.StateView) (map[string]any, error) {
			return map[string]any{}, nil
		},
		nil,
	)
	_ = mgr.Register(string(models.ComponentTypeTrigger), passthrough)
	_ = mgr.Register(string(models.ComponentTypeSwitch), passthrough)
	_ = mgr.Register(string(models.ComponentTypeTransform), executor.NewJQTransformExecutor())
	return mgr
}

// runDispatchWorker drains the execution queue and resumes each execution
// id on the orchestrator: the worker-process side of the dispatcher
// hand-off.
func runDispatchWorker(ctx context.Context, log *logger.Logger, disp *dispatcher.RedisDispatcher, orch *engine.Orchestrator) {
	const queue = "pipelit:executions"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := disp.Dequeue(ctx, queue, 5*time.Second)
		if errors.Is(err, dispatcher.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dispatch: dequeue failed", "error", err)
			continue
		}

		var payload struct {
			ExecutionID string `json:"execution_id"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ExecutionID == "" {
			log.Error("dispatch: malformed job payload", "job_id", job.ID)
			continue
		}
		executionID := payload.ExecutionID

		go func(executionID string) {
			runCtx, cancel := context.WithTimeout(context.Background(), job.Timeout)
			defer cancel()
			if _, err := orch.Run(runCtx, executionID); err != nil {
				log.Error("execution run failed", "execution_id", executionID, "error", err)
			}
		}(executionID)
	}
}

// scheduledFirePayload is the subset of scheduler.fire's dispatcher payload
// this worker needs; the job row itself is reloaded fresh from scheduledJobs
// so RecordSuccess/RecordFailure always mutate the current CurrentRepeat/
// CurrentRetry, not a stale copy carried in the queue payload.
type scheduledFirePayload struct {
	ScheduledJobID string `json:"scheduled_job_id"`
}

// runScheduledExecutionWorker drains the scheduler's fire queue, turning
// each due firing into a fresh Execution and reporting its outcome back
// onto the ScheduledJob row via scheduler.RecordSuccess/RecordFailure so
// the next scan's backoff/repeat-count decisions see it.
func runScheduledExecutionWorker(
	ctx context.Context,
	log *logger.Logger,
	disp *dispatcher.RedisDispatcher,
	scheduledJobs scheduler.Store,
	executions engine.ExecutionStore,
	orch *engine.Orchestrator,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := disp.Dequeue(ctx, scheduler.ExecutionQueue, 5*time.Second)
		if errors.Is(err, dispatcher.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("scheduled dispatch: dequeue failed", "error", err)
			continue
		}

		var fire scheduledFirePayload
		if err := json.Unmarshal(job.Payload, &fire); err != nil || fire.ScheduledJobID == "" {
			log.Error("scheduled dispatch: malformed job payload", "job_id", job.ID)
			continue
		}

		go func(scheduledJobID string, timeout time.Duration) {
			runCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			sj, err := scheduledJobs.Get(runCtx, scheduledJobID)
			if err != nil {
				log.Error("scheduled dispatch: reload job failed", "scheduled_job_id", scheduledJobID, "error", err)
				return
			}

			var triggerPayload models.TriggerPayload
			if raw, mErr := json.Marshal(sj.TriggerPayload); mErr == nil {
				_ = json.Unmarshal(raw, &triggerPayload)
			}

			now := time.Now()
			exec := &models.Execution{
				ID:             uuid.New().String(),
				WorkflowID:     sj.WorkflowID,
				Status:         models.ExecutionStatusPending,
				TriggerNodeID:  sj.TriggerNodeID,
				TriggerPayload: triggerPayload,
				StartedAt:      now,
				CreatedAt:      now,
			}
			if _, err := executions.CreateExecution(runCtx, exec); err != nil {
				log.Error("scheduled dispatch: create execution failed", "scheduled_job_id", scheduledJobID, "error", err)
				scheduler.RecordFailure(sj, err.Error())
				_ = scheduledJobs.Update(runCtx, sj)
				return
			}

			status, err := orch.Run(runCtx, exec.ID)
			if err != nil || status == models.ExecutionStatusFailed {
				errMsg := "execution failed"
				if err != nil {
					errMsg = err.Error()
				}
				log.Error("scheduled execution failed", "scheduled_job_id", scheduledJobID, "execution_id", exec.ID, "error", errMsg)
				scheduler.RecordFailure(sj, errMsg)
			} else {
				scheduler.RecordSuccess(sj)
			}
			if err := scheduledJobs.Update(runCtx, sj); err != nil {
				log.Error("scheduled dispatch: update job failed", "scheduled_job_id", scheduledJobID, "error", err)
			}
		}(fire.ScheduledJobID, job.Timeout)
	}
}

// newRouter exposes health/readiness, the websocket stream, and the
// execution-trigger entry points. Workflow CRUD, auth, and the rest of
// the REST surface live in the external authoring layer.
func newRouter(
	cfg *config.Config,
	log *logger.Logger,
	orch *engine.Orchestrator,
	sched *scheduler.Scheduler,
	executions engine.ExecutionStore,
	workflows engine.WorkflowLoader,
	wsHub *observer.WebSocketHub,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "connected_clients": wsHub.ClientCount()})
	})

	var wsOpts []observer.WebSocketHandlerOption
	if cfg.Auth.JWTSecret != "" {
		wsOpts = append(wsOpts, observer.WithTokenValidator(observer.NewJWTTokenValidator(cfg.Auth.JWTSecret)))
	}
	wsHandler := observer.NewWebSocketHandler(wsHub, log, wsOpts...)
	router.GET("/ws", gin.WrapF(wsHandler.ServeHTTP))

	v1 := router.Group("/v1")
	{
		v1.POST("/workflows/:workflow_id/trigger/:trigger_node_id", triggerHandler(orch, executions, workflows))
		v1.GET("/executions/:execution_id", getExecutionHandler(executions))
		v1.POST("/executions/:execution_id/cancel", cancelExecutionHandler(orch))

		v1.POST("/schedules", createScheduleHandler(sched))
		v1.POST("/schedules/:schedule_id/pause", scheduleActionHandler(sched.PauseSchedule, models.ScheduledJobStatusPaused))
		v1.POST("/schedules/:schedule_id/resume", scheduleActionHandler(sched.ResumeSchedule, models.ScheduledJobStatusActive))
		v1.DELETE("/schedules/:schedule_id", deleteScheduleHandler(sched))
	}

	return router
}

func createScheduleHandler(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var job models.ScheduledJob
		if err := c.ShouldBindJSON(&job); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if err := sched.CreateSchedule(c.Request.Context(), &job); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"schedule_id": job.ID, "status": job.Status, "next_run_at": job.NextRunAt})
	}
}

func scheduleActionHandler(action func(context.Context, string) error, resulting models.ScheduledJobStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("schedule_id")
		if err := action(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"schedule_id": id, "status": resulting})
	}
}

func deleteScheduleHandler(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("schedule_id")
		if err := sched.DeleteSchedule(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// triggerHandler creates a pending Execution for
// (workflow_id, trigger_node_id) with the posted payload and runs it to a
// terminal status.
func triggerHandler(orch *engine.Orchestrator, executions engine.ExecutionStore, workflows engine.WorkflowLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Param("workflow_id")
		triggerNodeID := c.Param("trigger_node_id")

		if _, err := workflows.LoadWorkflow(c.Request.Context(), workflowID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var payload models.TriggerPayload
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&payload); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		now := time.Now()
		exec := &models.Execution{
			ID:             uuid.New().String(),
			WorkflowID:     workflowID,
			Status:         models.ExecutionStatusPending,
			TriggerNodeID:  triggerNodeID,
			TriggerPayload: payload,
			StartedAt:      now,
			CreatedAt:      now,
		}
		if _, err := executions.CreateExecution(c.Request.Context(), exec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status, err := orch.Run(c.Request.Context(), exec.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "execution_id": exec.ID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"execution_id": exec.ID, "status": status})
	}
}

// cancelExecutionHandler requests cooperative cancellation: the
// orchestrator aborts at the next node boundary and cascades to any
// in-flight sub-workflow children.
func cancelExecutionHandler(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := orch.Cancel(c.Request.Context(), c.Param("execution_id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"execution_id": c.Param("execution_id"), "status": models.ExecutionStatusCancelled})
	}
}

func getExecutionHandler(executions engine.ExecutionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := executions.GetExecution(c.Request.Context(), c.Param("execution_id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, exec)
	}
}
