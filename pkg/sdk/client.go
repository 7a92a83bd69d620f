// Package sdk provides a Go client library for the orchestrator's HTTP API
// (internal/orchestrator/api), for operators and integrations submitting
// jobs, registering robots out of band, and managing schedules.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the orchestrator API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	Robots    *RobotsService
	Jobs      *JobsService
	Schedules *SchedulesService
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithAPIKey sets the API key sent on every request.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

// NewClient creates a client pointed at the orchestrator's base URL. Request
// paths are appended to the base URL's own path, so a base such as
// "http://host:8080/api/v1" reaches the server's /api/v1 routes.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Robots = &RobotsService{client: c}
	c.Jobs = &JobsService{client: c}
	c.Schedules = &SchedulesService{client: c}
	return c
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	return c.httpClient.Do(req)
}

func (c *Client) decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("orchestrator API error: status %d", resp.StatusCode)
		}
		return &errResp
	}

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// ErrorResponse mirrors internal/orchestrator/api's respondError envelope.
type ErrorResponse struct {
	Message string `json:"error"`
}

func (e *ErrorResponse) Error() string { return e.Message }

// RobotsService manages the robot directory.
type RobotsService struct {
	client *Client
}

// Register declares a new robot out of band (normally a robot registers
// itself over the robot channel on connect; this is for pre-provisioning).
func (s *RobotsService) Register(ctx context.Context, req *RegisterRobotRequest) (*Robot, error) {
	resp, err := s.client.request(ctx, "POST", "/robots", req)
	if err != nil {
		return nil, err
	}
	var robot Robot
	if err := s.client.decodeResponse(resp, &robot); err != nil {
		return nil, err
	}
	return &robot, nil
}

// Get retrieves a robot by ID.
func (s *RobotsService) Get(ctx context.Context, id string) (*Robot, error) {
	resp, err := s.client.request(ctx, "GET", "/robots/"+id, nil)
	if err != nil {
		return nil, err
	}
	var robot Robot
	if err := s.client.decodeResponse(resp, &robot); err != nil {
		return nil, err
	}
	return &robot, nil
}

// List retrieves every registered robot.
func (s *RobotsService) List(ctx context.Context) ([]*Robot, error) {
	resp, err := s.client.request(ctx, "GET", "/robots", nil)
	if err != nil {
		return nil, err
	}
	var robots []*Robot
	if err := s.client.decodeResponse(resp, &robots); err != nil {
		return nil, err
	}
	return robots, nil
}

// Deregister removes a robot from the directory.
func (s *RobotsService) Deregister(ctx context.Context, id string) error {
	resp, err := s.client.request(ctx, "DELETE", "/robots/"+id, nil)
	if err != nil {
		return err
	}
	return s.client.decodeResponse(resp, nil)
}

// JobsService submits and tracks workflow runs.
type JobsService struct {
	client *Client
}

// Submit enqueues a new job for dispatch to a matching robot.
func (s *JobsService) Submit(ctx context.Context, req *SubmitJobRequest) (*Job, error) {
	resp, err := s.client.request(ctx, "POST", "/jobs", req)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := s.client.decodeResponse(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Get retrieves a job's current state.
func (s *JobsService) Get(ctx context.Context, id string) (*Job, error) {
	resp, err := s.client.request(ctx, "GET", "/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := s.client.decodeResponse(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel cancels a pending or running job.
func (s *JobsService) Cancel(ctx context.Context, id string) error {
	resp, err := s.client.request(ctx, "POST", fmt.Sprintf("/jobs/%s/cancel", id), nil)
	if err != nil {
		return err
	}
	return s.client.decodeResponse(resp, nil)
}

// Retry resubmits a failed or cancelled job as a new job.
func (s *JobsService) Retry(ctx context.Context, id string) (*Job, error) {
	resp, err := s.client.request(ctx, "POST", fmt.Sprintf("/jobs/%s/retry", id), nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := s.client.decodeResponse(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SchedulesService manages interval/cron/once schedules.
type SchedulesService struct {
	client *Client
}

// Create registers a new schedule.
func (s *SchedulesService) Create(ctx context.Context, req *CreateScheduleRequest) (*Schedule, error) {
	resp, err := s.client.request(ctx, "POST", "/schedules", req)
	if err != nil {
		return nil, err
	}
	var sched Schedule
	if err := s.client.decodeResponse(resp, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// List retrieves every schedule.
func (s *SchedulesService) List(ctx context.Context) ([]*Schedule, error) {
	resp, err := s.client.request(ctx, "GET", "/schedules", nil)
	if err != nil {
		return nil, err
	}
	var scheds []*Schedule
	if err := s.client.decodeResponse(resp, &scheds); err != nil {
		return nil, err
	}
	return scheds, nil
}

// Enable/Disable toggle a schedule's firing without deleting it.
func (s *SchedulesService) Enable(ctx context.Context, id string) error {
	resp, err := s.client.request(ctx, "POST", fmt.Sprintf("/schedules/%s/enable", id), nil)
	if err != nil {
		return err
	}
	return s.client.decodeResponse(resp, nil)
}

func (s *SchedulesService) Disable(ctx context.Context, id string) error {
	resp, err := s.client.request(ctx, "POST", fmt.Sprintf("/schedules/%s/disable", id), nil)
	if err != nil {
		return err
	}
	return s.client.decodeResponse(resp, nil)
}

// Delete removes a schedule.
func (s *SchedulesService) Delete(ctx context.Context, id string) error {
	resp, err := s.client.request(ctx, "DELETE", "/schedules/"+id, nil)
	if err != nil {
		return err
	}
	return s.client.decodeResponse(resp, nil)
}

// RunNow fires a schedule immediately, regardless of whether it is enabled.
func (s *SchedulesService) RunNow(ctx context.Context, id string) (*Job, error) {
	resp, err := s.client.request(ctx, "POST", fmt.Sprintf("/schedules/%s/run_now", id), nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := s.client.decodeResponse(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
