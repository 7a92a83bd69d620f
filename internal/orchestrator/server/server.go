// Package server wires the orchestrator's components (registry, matcher,
// robot channel, dispatcher, schedule manager, HTTP API) into one runnable
// service, the way the teacher's internal/gateway/server and
// internal/workflow/server assemble their own services.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/api"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/blobstore"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/mongostore"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotauth"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/schedule"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/config"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/health"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/messaging/kafka"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/metrics"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/telemetry"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/events"
	"github.com/linkflow-ai/linkflow-ai/pkg/middleware"
)

// loggerAdapter satisfies middleware.Logger with this service's logger.Logger.
type loggerAdapter struct{ log logger.Logger }

func (l loggerAdapter) Info(msg string, kv ...interface{})  { l.log.Info(msg, kv...) }
func (l loggerAdapter) Error(msg string, kv ...interface{}) { l.log.Error(msg, kv...) }
func (l loggerAdapter) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, kv...) }

// Server is the orchestrator process: it terminates robot websocket
// connections, dispatches jobs, fires schedules, and serves the management
// API.
type Server struct {
	config *config.Config
	logger logger.Logger

	httpServer *http.Server
	reg        *registry.Registry
	hub        *robotchannel.Hub
	dispatcher *dispatcher.Dispatcher
	queue      dispatcher.JobQueue
	schedules  *schedule.Manager
	streams    *api.Streams
	health     registry.HealthConfig

	metricsReg *prometheus.Registry
	metrics    *metrics.Metrics
	telemetry  *telemetry.Telemetry
	healthz    *health.Handler
	events     *kafka.EventPublisher

	mongo             *mongostore.Client
	jobStore          *mongostore.JobStore
	schedStore        *mongostore.ScheduleStore
	workflowBlobs     *blobstore.WorkflowBlobStore
	checkpointArchive *blobstore.CheckpointBlobArchive

	cancelBackground context.CancelFunc
}

// Option configures a Server before New builds it.
type Option func(*Server)

func WithConfig(cfg *config.Config) Option { return func(s *Server) { s.config = cfg } }
func WithLogger(log logger.Logger) Option  { return func(s *Server) { s.logger = log } }

// New assembles the orchestrator's components and its HTTP handler.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return s, nil
}

func (s *Server) initialize() error {
	s.health = registry.DefaultHealthConfig
	s.reg = registry.New(s.health)

	var auth robotchannel.Authenticator
	if s.config != nil && s.config.Orchestrator.APIKey != "" {
		keyHash, err := robotauth.HashKey(s.config.Orchestrator.APIKey)
		if err != nil {
			return fmt.Errorf("failed to hash robot registration key: %w", err)
		}
		issuer := robotauth.NewJWTIssuer([]byte(s.config.Auth.JWTSecret), 24*time.Hour)
		auth = robotauth.Authenticator(keyHash, issuer)
	}
	s.hub = robotchannel.NewHub(auth, s.logger)
	s.hub.OnRegister(func(robotID string, payload robotchannel.RegisterPayload) {
		caps := make(map[registry.Capability]bool, len(payload.Capabilities))
		for _, c := range payload.Capabilities {
			caps[registry.Capability(c)] = true
		}
		s.reg.Register(&registry.Robot{
			ID:                robotID,
			Name:              payload.Name,
			Environment:       payload.Environment,
			Capabilities:      caps,
			Tags:              payload.Tags,
			MaxConcurrentJobs: payload.MaxConcurrentJobs,
		})
		if robot, err := s.reg.Get(robotID); err == nil {
			s.streams.PublishRobotStatus(robot)
		}
		s.publishEvent(events.RobotRegistered, robotID, "robot", events.RobotStatusData{RobotID: robotID, Name: payload.Name})
	})
	s.hub.OnDisconnect(func(robotID string) {
		s.reg.UpdateStatus(robotID, registry.StatusOffline)
		if robot, err := s.reg.Get(robotID); err == nil {
			s.streams.PublishRobotStatus(robot)
		}
		s.publishEvent(events.RobotDisconnected, robotID, "robot", events.RobotStatusData{RobotID: robotID})
	})

	if s.config != nil && s.config.Redis.QueueEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:         s.config.Redis.Addr(),
			Password:     s.config.Redis.Password,
			DB:           s.config.Redis.DB,
			PoolSize:     s.config.Redis.PoolSize,
			MinIdleConns: s.config.Redis.MinIdleConns,
			DialTimeout:  s.config.Redis.DialTimeout,
			ReadTimeout:  s.config.Redis.ReadTimeout,
			WriteTimeout: s.config.Redis.WriteTimeout,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis job queue: %w", err)
		}
		s.queue = dispatcher.NewRedisJobQueue(client, "")
	} else {
		s.queue = dispatcher.NewInMemoryJobQueue()
	}
	s.dispatcher = dispatcher.New(s.reg, s.hub, s.queue, s.logger, s.health.HeartbeatTimeout)
	s.hub.OnFrame(s.dispatcher.HandleFrame)

	if s.config != nil && s.config.Mongo.URI != "" {
		mongoCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongostore.Connect(mongoCtx, s.config.Mongo.URI, s.config.Mongo.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize mongo job/schedule store: %w", err)
		}
		s.mongo = client
		s.jobStore = mongostore.NewJobStore(client)
		s.schedStore = mongostore.NewScheduleStore(client)
	}

	if s.config != nil && s.config.S3.Bucket != "" {
		blobCfg := blobstore.Config{Bucket: s.config.S3.Bucket, Region: s.config.S3.Region, Endpoint: s.config.S3.Endpoint}
		wfStore, err := blobstore.NewWorkflowBlobStore(context.Background(), blobCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize workflow blob store: %w", err)
		}
		archive, err := blobstore.NewCheckpointBlobArchive(context.Background(), blobCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize checkpoint blob archive: %w", err)
		}
		s.workflowBlobs = wfStore
		s.checkpointArchive = archive
	}

	s.streams = api.NewStreams(s.logger)
	s.dispatcher.OnUpdate(func(job *dispatcher.Job) {
		s.streams.PublishJobUpdate(job)
		if s.jobStore != nil {
			if err := s.jobStore.Save(context.Background(), job); err != nil {
				s.logger.Error("failed to persist job", "job_id", job.ID, "error", err)
			}
		}
		switch {
		case job.State.Terminal():
			s.metrics.JobsTerminalTotal.WithLabelValues(string(job.State)).Inc()
			s.publishEvent(terminalEventType(job.State), job.ID, "job", events.JobTerminalData{
				JobID: job.ID, WorkflowID: job.WorkflowID, State: string(job.State),
				Error: job.Error, ExecutedNodes: job.ExecutedNodes,
			})
			s.archiveCheckpoint(job)
		case job.State == dispatcher.JobClaimed:
			s.publishEvent(events.JobAssigned, job.ID, "job", events.JobAssignedData{JobID: job.ID, RobotID: job.AssignedRobotID})
		case job.State == dispatcher.JobPending && job.Attempts == 0:
			s.metrics.JobsSubmittedTotal.WithLabelValues(job.WorkflowID).Inc()
			s.publishEvent(events.JobSubmitted, job.ID, "job", events.JobSubmittedData{JobID: job.ID, WorkflowID: job.WorkflowID, Priority: job.Priority})
			if s.workflowBlobs != nil && len(job.WorkflowBlob) > 0 {
				if err := s.workflowBlobs.Put(context.Background(), job.WorkflowID, job.WorkflowBlob); err != nil {
					s.logger.Error("failed to archive workflow blob", "workflow_id", job.WorkflowID, "error", err)
				}
			}
		}
	})

	s.schedules = schedule.New(func(entry *schedule.Entry) (*schedule.Job, error) {
		return &schedule.Job{WorkflowID: entry.WorkflowID, ScheduleID: entry.ID, RunCount: entry.RunCount}, nil
	})
	if s.schedStore != nil {
		s.schedules.OnChange(func(entry *schedule.Entry) {
			if err := s.schedStore.Save(context.Background(), entry); err != nil {
				s.logger.Error("failed to persist schedule", "schedule_id", entry.ID, "error", err)
			}
		})
		s.schedules.OnDelete(func(id string) {
			if err := s.schedStore.Delete(context.Background(), id); err != nil {
				s.logger.Error("failed to delete persisted schedule", "schedule_id", id, "error", err)
			}
		})
		existing, err := s.schedStore.ListEnabled(context.Background())
		if err != nil {
			return fmt.Errorf("failed to rehydrate schedules from mongo: %w", err)
		}
		for _, entry := range existing {
			if err := s.schedules.Restore(entry); err != nil {
				s.logger.Error("failed to reschedule persisted entry", "schedule_id", entry.ID, "error", err)
			}
		}
	}

	serviceName := "orchestrator"
	version := ""
	if s.config != nil {
		if s.config.Service.Name != "" {
			serviceName = s.config.Service.Name
		}
		version = s.config.Version
	}

	s.metricsReg = prometheus.NewRegistry()
	s.metrics = metrics.New(serviceName, s.metricsReg)

	telemetryCfg := telemetry.Config{ServiceName: serviceName}
	if s.config != nil {
		telemetryCfg.JaegerEndpoint = s.config.Telemetry.JaegerEndpoint
		telemetryCfg.TracingEnabled = s.config.Telemetry.TracingEnabled
	}
	tel, err := telemetry.New(telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	s.healthz = health.NewHandler(serviceName, version)
	s.healthz.AddCheck("dispatch_queue", func(ctx context.Context) error {
		_, err := s.queue.Len(ctx)
		return err
	})

	if s.config != nil && len(s.config.Kafka.Brokers) > 0 {
		pub, err := kafka.NewEventPublisher(&kafka.Config{Brokers: s.config.Kafka.Brokers}, s.metrics, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		s.events = pub
	}

	s.setupHTTPServer()
	return nil
}

// publishEvent is a no-op when no Kafka brokers are configured, matching
// the accept-all-when-unconfigured pattern used for the robot channel's
// Authenticator and the /api/v1 API key check.
func (s *Server) publishEvent(eventType events.EventType, aggregateID, aggregateType string, data interface{}) {
	if s.events == nil {
		return
	}
	event, err := events.NewEvent(eventType, aggregateID, aggregateType, data)
	if err != nil {
		s.logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	if err := s.events.Publish(context.Background(), event); err != nil {
		s.logger.Error("failed to publish event", "type", eventType, "error", err)
	}
}

// archiveCheckpoint writes an immutable, timestamped snapshot of a
// terminal job's final state to S3, giving an audit trail the mongo
// JobStore's upsert-only record can't provide on its own. A no-op when
// no S3 bucket is configured.
func (s *Server) archiveCheckpoint(job *dispatcher.Job) {
	if s.checkpointArchive == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Error("failed to marshal job checkpoint snapshot", "job_id", job.ID, "error", err)
		return
	}
	if err := s.checkpointArchive.Archive(context.Background(), job.ID, job.UpdatedAt, data); err != nil {
		s.logger.Error("failed to archive job checkpoint snapshot", "job_id", job.ID, "error", err)
	}
}

func terminalEventType(state dispatcher.JobState) events.EventType {
	switch state {
	case dispatcher.JobCompleted:
		return events.JobCompleted
	case dispatcher.JobCancelled:
		return events.JobCancelled
	default:
		return events.JobFailed
	}
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(&middleware.RecoveryConfig{Logger: loggerAdapter{s.logger}, StackTrace: true}))
	router.Use(middleware.Logging(&middleware.LoggingConfig{Logger: loggerAdapter{s.logger}, SkipPaths: []string{"/health/live", "/health/ready"}}))
	router.Use(middleware.CORS(nil))
	router.Use(middleware.RateLimit(&middleware.RateLimitConfig{
		RequestsPerMinute: 600,
		BurstSize:         1200,
		SkipPaths:         []string{"/health/live", "/health/ready", "/metrics", "/robot"},
	}))
	router.Use(s.metrics.HTTPMiddleware())

	router.HandleFunc("/health/live", s.healthz.LivenessHandler()).Methods("GET")
	router.HandleFunc("/health/ready", s.healthz.ReadinessHandler()).Methods("GET")
	router.Handle("/metrics", metrics.Handler(s.metricsReg)).Methods("GET")
	router.HandleFunc("/robot", s.hub.ServeHTTP)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	if s.config != nil && s.config.Orchestrator.APIKey != "" {
		apiRouter.Use(middleware.APIKey(map[string]string{s.config.Orchestrator.APIKey: "operator"}))
	}
	handler := api.New(s.reg, s.dispatcher, s.schedules, s.hub, s.streams, s.logger)
	handler.RegisterRoutes(apiRouter)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// Start runs the dispatcher loop, the health sweep ticker, the schedule
// manager and the HTTP listener. It blocks until the HTTP server stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	go s.dispatcher.Run(ctx)
	s.schedules.Start()
	go s.runHealthSweep(ctx)

	s.logger.Info("Starting Orchestrator Service", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) runHealthSweep(ctx context.Context) {
	ticker := time.NewTicker(s.health.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reg.RunHealthSweep(now)
		}
	}
}

// Shutdown stops the HTTP server and background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down orchestrator")
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	s.schedules.Stop()
	if err := s.queue.Close(); err != nil {
		s.logger.Error("failed to close job queue", "error", err)
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Error("failed to close event publisher", "error", err)
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Close(ctx); err != nil {
			s.logger.Error("failed to close mongo connection", "error", err)
		}
	}
	if err := s.telemetry.Close(ctx); err != nil {
		s.logger.Error("failed to shut down telemetry", "error", err)
	}
	return s.httpServer.Shutdown(ctx)
}

