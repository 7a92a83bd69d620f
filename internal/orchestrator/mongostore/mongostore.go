// Package mongostore persists orchestrator job and schedule history to
// MongoDB, an alternate backend to the dispatcher's in-memory job map and
// the schedule manager's in-memory entry map: durable across orchestrator
// restarts, at the cost of the mongo round trip on every state transition.
// Grounded on the teacher's repository-per-aggregate shape
// (internal/workflow/adapters/persistence), translated from GORM/Postgres to
// the mongo-driver's Collection/bson idiom.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/schedule"
)

// Client wraps a mongo.Client scoped to one database, shared by JobStore and
// ScheduleStore so both collections live under the same connection pool.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the server before returning, the same
// fail-fast-at-startup posture as database.New's db.PingContext.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

func (c *Client) Close(ctx context.Context) error { return c.client.Disconnect(ctx) }

// JobStore persists dispatcher.Job documents, one per job ID, upserted on
// every state transition. This is separate from the dispatcher's in-memory
// map: the dispatcher stays the single source of truth for an in-flight
// job's dispatch decisions, while JobStore is a durability projection an
// operator can query after a restart or for long-term job history.
type JobStore struct {
	coll *mongo.Collection
}

func NewJobStore(c *Client) *JobStore {
	return &JobStore{coll: c.db.Collection("jobs")}
}

// Save upserts job keyed by its ID.
func (s *JobStore) Save(ctx context.Context, job *dispatcher.Job) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": job.ID},
		jobDocument(job),
		options.Replace().SetUpsert(true),
	)
	return err
}

// Get returns the persisted job by ID, or mongo.ErrNoDocuments if absent.
func (s *JobStore) Get(ctx context.Context, jobID string) (*dispatcher.Job, error) {
	var doc jobDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toJob(), nil
}

// ListByWorkflow returns every persisted job for workflowID, newest first.
func (s *JobStore) ListByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*dispatcher.Job, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.coll.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var jobs []*dispatcher.Job
	for cur.Next(ctx) {
		var doc jobDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		jobs = append(jobs, doc.toJob())
	}
	return jobs, cur.Err()
}

type jobDoc struct {
	ID                   string                 `bson:"_id"`
	WorkflowID           string                 `bson:"workflow_id"`
	WorkflowBlob         []byte                 `bson:"workflow_blob"`
	Variables            map[string]interface{} `bson:"variables,omitempty"`
	RequiredCapabilities []string               `bson:"required_capabilities,omitempty"`
	Priority             int                    `bson:"priority"`
	State                string                 `bson:"state"`
	AssignedRobotID      string                 `bson:"assigned_robot_id,omitempty"`
	Attempts             int                    `bson:"attempts"`
	Error                string                 `bson:"error,omitempty"`
	ErrorNodeID          string                 `bson:"error_node_id,omitempty"`
	ExecutedNodes        []string               `bson:"executed_nodes,omitempty"`
	CreatedAt            time.Time              `bson:"created_at"`
	UpdatedAt            time.Time              `bson:"updated_at"`
}

func jobDocument(j *dispatcher.Job) jobDoc {
	return jobDoc{
		ID: j.ID, WorkflowID: j.WorkflowID, WorkflowBlob: j.WorkflowBlob,
		Variables: j.Variables, RequiredCapabilities: j.RequiredCapabilities,
		Priority: j.Priority, State: string(j.State), AssignedRobotID: j.AssignedRobotID,
		Attempts: j.Attempts, Error: j.Error, ErrorNodeID: j.ErrorNodeID,
		ExecutedNodes: j.ExecutedNodes, CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

func (d *jobDoc) toJob() *dispatcher.Job {
	return &dispatcher.Job{
		ID: d.ID, WorkflowID: d.WorkflowID, WorkflowBlob: d.WorkflowBlob,
		Variables: d.Variables, RequiredCapabilities: d.RequiredCapabilities,
		Priority: d.Priority, State: dispatcher.JobState(d.State), AssignedRobotID: d.AssignedRobotID,
		Attempts: d.Attempts, Error: d.Error, ErrorNodeID: d.ErrorNodeID,
		ExecutedNodes: d.ExecutedNodes, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// ScheduleStore persists schedule.Entry documents, surviving an orchestrator
// restart so cron/interval/once schedules aren't lost with the in-memory
// schedule manager.
type ScheduleStore struct {
	coll *mongo.Collection
}

func NewScheduleStore(c *Client) *ScheduleStore {
	return &ScheduleStore{coll: c.db.Collection("schedules")}
}

func (s *ScheduleStore) Save(ctx context.Context, entry *schedule.Entry) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": entry.ID},
		scheduleDocument(entry),
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// ListEnabled returns every enabled schedule, used to rehydrate the schedule
// manager's in-memory entries at startup.
func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]*schedule.Entry, error) {
	cur, err := s.coll.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*schedule.Entry
	for cur.Next(ctx) {
		var doc scheduleDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, doc.toEntry())
	}
	return entries, cur.Err()
}

type scheduleDoc struct {
	ID         string     `bson:"_id"`
	WorkflowID string     `bson:"workflow_id"`
	Kind       string     `bson:"kind"`
	CronExpr   string     `bson:"cron_expr,omitempty"`
	Interval   int64      `bson:"interval_ns,omitempty"`
	Sugar      string     `bson:"sugar,omitempty"`
	OnceAt     time.Time  `bson:"once_at,omitempty"`
	Timezone   string     `bson:"timezone,omitempty"`
	Enabled    bool       `bson:"enabled"`
	NextRun    time.Time  `bson:"next_run"`
	LastRun    *time.Time `bson:"last_run,omitempty"`
	RunCount   int64      `bson:"run_count"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func scheduleDocument(e *schedule.Entry) scheduleDoc {
	return scheduleDoc{
		ID: e.ID, WorkflowID: e.WorkflowID, Kind: string(e.Kind), CronExpr: e.CronExpr,
		Interval: int64(e.Interval), Sugar: string(e.Sugar), OnceAt: e.OnceAt, Timezone: e.Timezone,
		Enabled: e.Enabled, NextRun: e.NextRun, LastRun: e.LastRun, RunCount: e.RunCount,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

func (d *scheduleDoc) toEntry() *schedule.Entry {
	return &schedule.Entry{
		ID: d.ID, WorkflowID: d.WorkflowID, Kind: schedule.Kind(d.Kind), CronExpr: d.CronExpr,
		Interval: time.Duration(d.Interval), Sugar: schedule.IntervalSugar(d.Sugar), OnceAt: d.OnceAt,
		Timezone: d.Timezone, Enabled: d.Enabled, NextRun: d.NextRun, LastRun: d.LastRun,
		RunCount: d.RunCount, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}
