package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
)

// Streams is the Server-Sent-Events fan-out for the three observer feeds of
// §4.7.6: robot_status, job_update, queue_metrics. Grounded on the teacher's
// internal/gateway/realtime/events.go EventBroadcaster subscriber-channel
// pattern, adapted from WebSocket push to SSE since these are one-way
// read-only feeds with no client-to-server frame.
type Streams struct {
	log logger.Logger

	mu            sync.RWMutex
	robotStatus   map[chan []byte]struct{}
	jobUpdate     map[chan []byte]struct{}
	queueMetrics  map[chan []byte]struct{}
}

// NewStreams builds an empty Streams fan-out.
func NewStreams(log logger.Logger) *Streams {
	return &Streams{
		log:          log,
		robotStatus:  make(map[chan []byte]struct{}),
		jobUpdate:    make(map[chan []byte]struct{}),
		queueMetrics: make(map[chan []byte]struct{}),
	}
}

// PublishRobotStatus is called by the server when a robot registers or
// disconnects over the robot channel.
func (s *Streams) PublishRobotStatus(robot *registry.Robot) {
	s.publish(s.robotStatus, robot)
}

// PublishJobUpdate is wired to dispatcher.Dispatcher.OnUpdate.
func (s *Streams) PublishJobUpdate(job *dispatcher.Job) {
	s.publish(s.jobUpdate, job)
}

// QueueMetrics is the payload of the queue_metrics feed.
type QueueMetrics struct {
	Depth          int64     `json:"depth"`
	ActiveRobots   int       `json:"active_robots"`
	TotalRobots    int       `json:"total_robots"`
	SampledAt      time.Time `json:"sampled_at"`
}

// PublishQueueMetrics is called on the caller's own sampling cadence (e.g.
// from a ticker alongside registry.RunHealthSweep).
func (s *Streams) PublishQueueMetrics(m QueueMetrics) {
	s.publish(s.queueMetrics, m)
}

func (s *Streams) publish(subs map[chan []byte]struct{}, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range subs {
		select {
		case ch <- data:
		default:
			// Slow consumer: drop rather than block the publisher.
		}
	}
}

func (s *Streams) ServeRobotStatus(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, s.robotStatus)
}

func (s *Streams) ServeJobUpdate(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, s.jobUpdate)
}

func (s *Streams) ServeQueueMetrics(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, s.queueMetrics)
}

func (s *Streams) serveSSE(w http.ResponseWriter, r *http.Request, subs map[chan []byte]struct{}) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 32)
	s.mu.Lock()
	subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(subs, ch)
		s.mu.Unlock()
		close(ch)
	}()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
