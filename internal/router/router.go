// Package router consumes the priority queue and dispatches classified
// messages to capability-matched agents. The router is the queue's sole
// mutator and the sole writer of message status; everything downstream
// observes status through the change callback.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/agents"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/queue"
)

// ErrorSink receives dispatch failures. Implemented by the error handler.
type ErrorSink interface {
	HandleError(ctx context.Context, err error, severity models.Severity, errCtx models.ErrorContext)
}

// StatusFunc observes message status transitions.
type StatusFunc func(messageID string, status models.MessageStatus)

// ResultFunc observes successful dispatch results.
type ResultFunc func(result *models.ProcessedMessage)

type envelope struct {
	msg *models.UserMessage
	cls *models.MessageClassification
}

// Router drains the priority queue with a fixed worker pool. Higher priority
// dequeues first; equal priorities dequeue FIFO.
type Router struct {
	registry *agents.Registry
	errs     ErrorSink
	logger   *zap.Logger

	concurrency     int
	dispatchTimeout time.Duration
	maxRetries      int
	retryBackoff    time.Duration

	onStatus StatusFunc
	onResult ResultFunc

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.PriorityQueue[envelope]
	stopped bool

	lifecycleMu sync.Mutex
	started     bool
	wg          sync.WaitGroup
}

// New creates a router. onStatus and onResult may be nil.
func New(cfg config.RouterConfig, registry *agents.Registry, errs ErrorSink, onStatus StatusFunc, onResult ResultFunc, logger *zap.Logger) *Router {
	r := &Router{
		registry:        registry,
		errs:            errs,
		logger:          logger,
		concurrency:     cfg.Concurrency,
		dispatchTimeout: cfg.DispatchTimeout,
		maxRetries:      cfg.MaxRetries,
		retryBackoff:    cfg.RetryBackoff,
		onStatus:        onStatus,
		onResult:        onResult,
		pending:         queue.New[envelope](),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the worker pool. Idempotent.
func (r *Router) Start() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info("Router started", zap.Int("workers", r.concurrency))
}

// Stop halts the workers after their in-flight dispatches finish. Messages
// still queued stay pending. Idempotent.
func (r *Router) Stop() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if !r.started {
		return
	}
	r.started = false

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cond.Broadcast()

	r.wg.Wait()
	r.logger.Info("Router stopped")
}

// Enqueue admits a classified message under its urgency-derived priority.
func (r *Router) Enqueue(msg *models.UserMessage, cls *models.MessageClassification) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("router is stopped")
	}
	r.pending.Enqueue(envelope{msg: msg, cls: cls}, cls.Urgency.Priority())
	depth := r.pending.Len()
	r.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	r.setStatus(msg, models.StatusPending)
	r.cond.Signal()
	return nil
}

// QueueDepth returns the number of messages waiting for a worker.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

func (r *Router) worker() {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		for r.pending.IsEmpty() && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		env, _ := r.pending.Dequeue()
		depth := r.pending.Len()
		r.mu.Unlock()

		metrics.QueueDepth.Set(float64(depth))
		r.dispatch(env.msg, env.cls)
	}
}

func (r *Router) dispatch(msg *models.UserMessage, cls *models.MessageClassification) {
	r.setStatus(msg, models.StatusProcessing)

	agent, err := r.selectAgent(cls)
	if err != nil {
		r.errs.HandleError(context.Background(), err, models.SeverityHigh, models.ErrorContext{
			UserID:    msg.UserID,
			MessageID: msg.ID,
			Operation: "route",
		})
		r.fail(msg)
		return
	}

	attempts := r.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result, dispatchErr := r.attempt(agent, msg, cls)
		if dispatchErr == nil {
			r.setStatus(msg, models.StatusProcessed)
			metrics.MessagesCompleted.WithLabelValues(string(models.StatusProcessed)).Inc()
			if r.onResult != nil {
				r.onResult(result)
			}
			return
		}

		final := attempt == attempts
		severity := models.SeverityMedium
		if final {
			severity = models.SeverityHigh
		}
		r.errs.HandleError(context.Background(), dispatchErr, severity, models.ErrorContext{
			AgentID:   agent.ID(),
			UserID:    msg.UserID,
			MessageID: msg.ID,
			Operation: "dispatch",
		})

		if !final {
			time.Sleep(r.retryBackoff)
		}
	}

	r.fail(msg)
}

func (r *Router) attempt(agent agents.Agent, msg *models.UserMessage, cls *models.MessageClassification) (*models.ProcessedMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.dispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := agent.ProcessMessage(ctx, msg, cls)
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		metrics.RecordDispatch(agent.ID(), "error", elapsed)
		return nil, fmt.Errorf("dispatch to %s: %w", agent.ID(), err)
	}
	metrics.RecordDispatch(agent.ID(), "ok", elapsed)
	return result, nil
}

// selectAgent prefers the classifier's explicit routing targets in order,
// then falls back to any agent serving the message's category.
func (r *Router) selectAgent(cls *models.MessageClassification) (agents.Agent, error) {
	for _, id := range cls.RouteTo {
		if agent, ok := r.registry.Get(id); ok {
			return agent, nil
		}
	}
	if candidates := r.registry.ByCapability(cls.Category); len(candidates) > 0 {
		return candidates[0], nil
	}
	return nil, fmt.Errorf("no agent available for category %s (route_to %v)", cls.Category, cls.RouteTo)
}

func (r *Router) fail(msg *models.UserMessage) {
	r.setStatus(msg, models.StatusFailed)
	metrics.MessagesCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
}

// setStatus writes the message status and notifies the observer. The router
// owns the field; terminal states are never overwritten.
func (r *Router) setStatus(msg *models.UserMessage, status models.MessageStatus) {
	if msg.Status.IsTerminal() {
		return
	}
	msg.Status = status
	if r.onStatus != nil {
		r.onStatus(msg.ID, status)
	}
}
