// Package realtime pushes triage changes to WebSocket subscribers. Clients
// subscribe to topics; the hub checks each topic against the caller's
// principal with the same predicates the row policies use.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

// Topics.
const (
	TopicQueue         = "queue"
	TopicAlerts        = "alerts"
	topicPatientPrefix = "patient:"
)

const sendBuffer = 64

// PatientTopic is the topic carrying one patient's result changes.
func PatientTopic(id uuid.UUID) string {
	return topicPatientPrefix + id.String()
}

// Authorize reports whether p may subscribe to topic.
func Authorize(p access.Principal, topic string) error {
	switch {
	case topic == TopicQueue, topic == TopicAlerts:
		if !p.IsStaff() {
			return fmt.Errorf("topic %q requires a staff role", topic)
		}
		return nil
	case strings.HasPrefix(topic, topicPatientPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(topic, topicPatientPrefix))
		if err != nil {
			return fmt.Errorf("topic %q has an invalid patient id", topic)
		}
		if !p.CanReadPatient(id) {
			return fmt.Errorf("topic %q is not visible to this user", topic)
		}
		return nil
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}

// Message is the JSON frame written to clients.
type Message struct {
	Type   string         `json:"type"`
	Topic  string         `json:"topic,omitempty"`
	Topics []string       `json:"topics,omitempty"`
	Result *triage.Result `json:"result,omitempty"`
	Alert  *triage.Alert  `json:"alert,omitempty"`
	Error  string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected subscriber.
type Client struct {
	ID        string
	Principal access.Principal

	send   chan []byte
	topics map[string]struct{}
	closed bool
}

// NewClient creates a client for p with a buffered send queue.
func NewClient(p access.Principal) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Principal: p,
		send:      make(chan []byte, sendBuffer),
		topics:    make(map[string]struct{}),
	}
}

// Send exposes the outbound queue. It is closed on Unregister.
func (c *Client) Send() <-chan []byte { return c.send }

// Metrics for the hub. A nil *Metrics records nothing.
type Metrics struct {
	Clients  prometheus.Gauge
	Sent     *prometheus.CounterVec
	Dropped  prometheus.Counter
	Rejected prometheus.Counter
}

// NewMetrics registers hub metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_clients",
			Help: "Connected WebSocket clients.",
		}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Messages queued to clients by event type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Messages dropped because a client queue was full.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_subscriptions_rejected_total",
			Help: "Topic subscriptions refused by the access policy.",
		}),
	}
	reg.MustRegister(m.Clients, m.Sent, m.Dropped, m.Rejected)
	return m
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}

	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger log.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Register adds a client with no subscriptions.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Clients.Inc()
	}
}

// Unregister removes the client from every topic and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	delete(h.all, c)
	c.closed = true
	close(c.send)
	if h.metrics != nil {
		h.metrics.Clients.Dec()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.all {
		h.unregisterLocked(c)
	}
}

// Subscribe adds the topics the client's principal may see and returns the
// ones refused, each with its reason.
func (h *Hub) Subscribe(c *Client, topics []string) (accepted []string, refused map[string]error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return nil, nil
	}
	for _, topic := range topics {
		if err := Authorize(c.Principal, topic); err != nil {
			if refused == nil {
				refused = make(map[string]error)
			}
			refused[topic] = err
			if h.metrics != nil {
				h.metrics.Rejected.Inc()
			}
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
		accepted = append(accepted, topic)
	}
	return accepted, refused
}

// Unsubscribe removes topics from the client.
func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(c, topic)
	}
}

func (h *Hub) removeLocked(c *Client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Topics returns the client's current subscriptions, sorted.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ProcessMessage applies an inbound client message and queues the
// acknowledgement and any refusal back to the client.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		accepted, refused := h.Subscribe(c, msg.Topics)
		for _, topic := range slices.Sorted(maps.Keys(refused)) {
			h.sendTo(c, Message{Type: "error", Topic: topic, Error: refused[topic].Error()})
		}
		if len(accepted) > 0 {
			h.sendTo(c, Message{Type: "subscribed", Topics: accepted})
		}
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
		h.sendTo(c, Message{Type: "unsubscribed", Topics: msg.Topics})
	default:
		h.sendTo(c, Message{Type: "error", Error: fmt.Sprintf("unknown action %q", msg.Action)})
	}
}

// Publish implements triage.Publisher. Result events go to the queue and
// the patient's topic; alert events to the alerts topic.
func (h *Hub) Publish(ctx context.Context, ev triage.Event) error {
	switch {
	case ev.Result != nil:
		msg := Message{Type: string(ev.Type), Result: ev.Result, At: ev.At}
		if err := h.broadcast(TopicQueue, msg); err != nil {
			return err
		}
		return h.broadcast(PatientTopic(ev.Result.PatientID), msg)
	case ev.Alert != nil:
		return h.broadcast(TopicAlerts, Message{Type: string(ev.Type), Alert: ev.Alert, At: ev.At})
	default:
		h.logger.Warn(ctx, "realtime event without payload", "type", string(ev.Type))
		return nil
	}
}

func (h *Hub) broadcast(topic string, msg Message) error {
	msg.Topic = topic
	if msg.At.IsZero() {
		msg.At = h.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", msg.Type, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[topic] {
		h.enqueue(c, msg.Type, data)
	}
	return nil
}

func (h *Hub) sendTo(c *Client, msg Message) {
	if msg.At.IsZero() {
		msg.At = h.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[c]; ok {
		h.enqueue(c, msg.Type, data)
	}
}

// enqueue never blocks: a full client queue drops the message.
// Callers hold at least the read lock.
func (h *Hub) enqueue(c *Client, typ string, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
		if h.metrics != nil {
			h.metrics.Sent.WithLabelValues(typ).Inc()
		}
	default:
		if h.metrics != nil {
			h.metrics.Dropped.Inc()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers on topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
