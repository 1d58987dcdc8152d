package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-sync/internal/observability"
)

// Mode is the degradation controller's operating state.
type Mode string

const (
	PushMode Mode = "push"
	PollMode Mode = "poll"
)

// StatusSource is the slice of the channel selector the controller
// watches.
type StatusSource interface {
	OnConnect(func())
	OnDegraded(func())
}

// Refresher is polled for the conversation list in degraded mode.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Refetcher is polled for the open thread in degraded mode.
type Refetcher interface {
	Refetch(ctx context.Context) error
}

// ControllerConfig tunes the grace window and poll cadences. Zero
// values get defaults.
type ControllerConfig struct {
	// GraceWindow is how long to wait for the first connect before
	// assuming the push channel is unusable.
	GraceWindow time.Duration
	// ListInterval is the conversation list poll cadence in poll mode.
	ListInterval time.Duration
	// ThreadInterval is the open-thread poll cadence in poll mode.
	ThreadInterval time.Duration
}

func (c *ControllerConfig) defaults() {
	if c.GraceWindow == 0 {
		c.GraceWindow = 5 * time.Second
	}
	if c.ListInterval == 0 {
		c.ListInterval = 3 * time.Second
	}
	if c.ThreadInterval == 0 {
		c.ThreadInterval = 1500 * time.Millisecond
	}
}

// Controller owns the push⇄poll state machine. It is the only place
// that starts polling timers: entering poll mode twice never stacks a
// second timer, and a connect event tears both down immediately.
type Controller struct {
	config ControllerConfig
	list   Refresher
	thread Refetcher

	mu         sync.Mutex
	mode       Mode
	started    bool
	sawConnect bool
	graceTimer *time.Timer
	pollCancel context.CancelFunc
}

// NewController builds a controller in push mode.
func NewController(config ControllerConfig, list Refresher, thread Refetcher) *Controller {
	config.defaults()
	return &Controller{
		config: config,
		list:   list,
		thread: thread,
		mode:   PushMode,
	}
}

// Start subscribes to the selector and arms the grace window: if no
// connect event arrives in time, polling begins.
func (c *Controller) Start(source StatusSource) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.graceTimer = time.AfterFunc(c.config.GraceWindow, func() {
		c.mu.Lock()
		missed := !c.sawConnect
		c.mu.Unlock()
		if missed {
			c.EnterPollMode()
		}
	})
	c.mu.Unlock()

	source.OnConnect(func() {
		c.mu.Lock()
		c.sawConnect = true
		c.mu.Unlock()
		c.EnterPushMode()
	})
	source.OnDegraded(func() {
		c.EnterPollMode()
	})
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// EnterPollMode starts fixed-interval polling for both synchronizers.
// Idempotent: repeated degraded notifications keep the single existing
// timer pair.
func (c *Controller) EnterPollMode() {
	c.mu.Lock()
	if c.mode == PollMode {
		c.mu.Unlock()
		return
	}
	c.mode = PollMode

	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.mu.Unlock()

	observability.IncModeTransition(string(PollMode))
	log.Printf("push channel unavailable, polling every %s", c.config.ListInterval)
	publishModeEvent(string(PollMode))

	go c.pollList(ctx)
	go c.pollThread(ctx)
}

// EnterPushMode suppresses polling; synchronization becomes event
// driven again. Idempotent.
func (c *Controller) EnterPushMode() {
	c.mu.Lock()
	if c.mode == PushMode {
		c.mu.Unlock()
		return
	}
	c.mode = PushMode
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	observability.IncModeTransition(string(PushMode))
	log.Printf("push channel restored, polling suppressed")
	publishModeEvent(string(PushMode))
}

// Stop tears down the grace timer and any active polling.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	cancel := c.pollCancel
	c.pollCancel = nil
	c.started = false
	c.mode = PushMode
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Controller) pollList(ctx context.Context) {
	ticker := time.NewTicker(c.config.ListInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.IncPollTick("conversations")
			if err := c.list.Refresh(ctx); err != nil {
				log.Printf("poll refresh failed: %v", err)
			}
		}
	}
}

func (c *Controller) pollThread(ctx context.Context) {
	ticker := time.NewTicker(c.config.ThreadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.IncPollTick("thread")
			if err := c.thread.Refetch(ctx); err != nil {
				log.Printf("poll refetch failed: %v", err)
			}
		}
	}
}

func publishModeEvent(mode string) {
	_ = observability.PublishEvent(context.Background(), "sync_events.mode", observability.EventEnvelope{
		EventType: "sync_events",
		EventName: "mode_transition",
		Payload:   map[string]interface{}{"mode": mode},
	}, nil)
}
