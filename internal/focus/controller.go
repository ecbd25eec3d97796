// Package focus implements the session controller: it drives frame analysis,
// tracks how long the eyes stay closed, raises drowsiness alerts with a
// cooldown, and folds each session into the user's statistics.
package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/capture"
	"github.com/ashureev/focusforge/internal/clock"
	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/vision"
	"github.com/google/uuid"
)

// State is the controller lifecycle state.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateStarting means Start is waiting for the camera.
	StateStarting
	// StateMonitoring means a session is running.
	StateMonitoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateMonitoring:
		return "monitoring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the timing policy of the controller.
type Config struct {
	// ClosedThreshold is how long the eyes must stay closed before an alert.
	ClosedThreshold time.Duration
	// CooldownRelease is how long the eyes must stay open to leave cooldown.
	CooldownRelease time.Duration
	// SleepTimePerIncident is the sleep time charged to the user per alert.
	SleepTimePerIncident time.Duration
	// TickInterval is the period of session_time events.
	TickInterval time.Duration
}

// DefaultConfig returns the standard timing policy.
func DefaultConfig() Config {
	return Config{
		ClosedThreshold:      5 * time.Second,
		CooldownRelease:      time.Second,
		SleepTimePerIncident: 5 * time.Second,
		TickInterval:         time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClosedThreshold <= 0 {
		c.ClosedThreshold = def.ClosedThreshold
	}
	if c.CooldownRelease <= 0 {
		c.CooldownRelease = def.CooldownRelease
	}
	if c.SleepTimePerIncident < 0 {
		c.SleepTimePerIncident = def.SleepTimePerIncident
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	return c
}

// Analyzer estimates the eye state of one frame.
type Analyzer interface {
	Analyze(f vision.Frame, at time.Time) (domain.EyeState, error)
}

// Alerter plays drowsiness alerts.
type Alerter interface {
	Play(phrase string) bool
	Stop()
	RandomPhrase() string
}

// SessionStore persists focus sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.FocusSession) error
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error
}

// StatsApplier applies user statistics deltas.
type StatsApplier interface {
	Apply(ctx context.Context, userID string, delta domain.StatsDelta) error
}

// Dependencies wires a Controller to its collaborators. Source, Analyzer,
// Alerter, Sessions and Stats are required.
type Dependencies struct {
	Source   capture.Source
	Analyzer Analyzer
	Alerter  Alerter
	Sessions SessionStore
	Stats    StatsApplier
	Events   Sink
	Recorder Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
	NewID    func() string
}

type taskKey string

const (
	taskSessionTick    taskKey = "sessionTick"
	taskCooldownExpiry taskKey = "cooldownExpiry"
)

type task struct {
	id    uint64
	timer clock.Timer
}

// Controller is the focus session state machine. All transitions happen
// under mu; storage, alert and event side effects run after it is released.
type Controller struct {
	cfg      Config
	source   capture.Source
	analyzer Analyzer
	alerter  Alerter
	sessions SessionStore
	stats    StatsApplier
	events   Sink
	recorder Recorder
	clock    clock.Clock
	logger   *slog.Logger
	newID    func() string

	// effectsMu orders session side effects against Stop: once Stop has
	// held it, no effect of the stopped session runs.
	effectsMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	taskSeq uint64
	tasks   map[taskKey]*task
	quit    chan struct{}

	session         *domain.FocusSession
	incidents       *sync.WaitGroup
	sleepDetections int
	eyesClosed      bool
	eyesClosedStart time.Time
	inCooldown      bool
	alertMessage    string
}

// NewController creates an idle controller.
func NewController(cfg Config, deps Dependencies) *Controller {
	c := &Controller{
		cfg:      cfg.withDefaults(),
		source:   deps.Source,
		analyzer: deps.Analyzer,
		alerter:  deps.Alerter,
		sessions: deps.Sessions,
		stats:    deps.Stats,
		events:   deps.Events,
		recorder: deps.Recorder,
		clock:    deps.Clock,
		logger:   deps.Logger,
		newID:    deps.NewID,
		tasks:    make(map[taskKey]*task),
	}
	if c.events == nil {
		c.events = SinkFunc(func(Event) {})
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Config returns the effective timing policy.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start acquires the camera, opens a focus session for userID and begins
// monitoring. It fails with domain.ErrCaptureUnavailable when the camera
// cannot be opened, leaving no session behind.
func (c *Controller) Start(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyMonitoring
	}
	c.state = StateStarting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.source.Initialize(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			c.source.Stop()
		}
		return domain.ErrStartAborted
	}
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Warn("Camera unavailable, monitoring not started", "user_id", userID, "error", err)
		return fmt.Errorf("start monitoring: %w", err)
	}
	session := &domain.FocusSession{
		ID:        c.newID(),
		UserID:    userID,
		StartTime: c.clock.Now(),
		IsActive:  true,
	}
	c.mu.Unlock()

	if err := c.sessions.CreateSession(ctx, session); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.source.Stop()
		return fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stop arrived while the session row was being written.
		c.mu.Unlock()
		c.source.Stop()
		end := c.clock.Now()
		err := c.finish(context.WithoutCancel(ctx), session, end, 0)
		return errors.Join(domain.ErrStartAborted, err)
	}
	c.state = StateMonitoring
	c.session = session
	c.incidents = &sync.WaitGroup{}
	c.sleepDetections = 0
	c.eyesClosed = false
	c.inCooldown = false
	c.alertMessage = ""
	quit := make(chan struct{})
	c.quit = quit
	c.scheduleLocked(taskSessionTick, c.cfg.TickInterval, c.tick)
	started := *session
	c.mu.Unlock()

	c.logger.Info("Focus session started", "user_id", userID, "session_id", session.ID)
	c.recorder.SessionStarted(userID)
	c.events.Emit(Event{Type: EventSessionStarted, At: started.StartTime, SessionID: started.ID, Session: &started})

	go c.run(gen, stream, quit)
	return nil
}

// Stop ends the running session: every pending task is cancelled, the alarm
// and the camera are released, the session is finalized and its duration is
// added to the user's focus time. Stop is a no-op when idle. The controller
// is idle afterwards even when persistence fails.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateStarting:
		c.state = StateIdle
		c.gen++
		c.mu.Unlock()
		c.source.Stop()
		c.logger.Info("Pending start aborted")
		return nil
	}

	c.gen++
	for key := range c.tasks {
		c.cancelTaskLocked(key)
	}
	session := c.session
	detections := c.sleepDetections
	incidents := c.incidents
	quit := c.quit
	end := c.clock.Now()

	c.state = StateIdle
	c.session = nil
	c.incidents = nil
	c.quit = nil
	c.eyesClosed = false
	c.inCooldown = false
	c.alertMessage = ""
	c.mu.Unlock()

	close(quit)
	c.effectsMu.Lock()
	c.alerter.Stop()
	c.effectsMu.Unlock()
	c.source.Stop()
	incidents.Wait()

	return c.finish(ctx, session, end, detections)
}

// finish writes the final session record, adds its duration to the user's
// focus time and announces the end. Incidents were already counted as they
// happened and are not added again.
func (c *Controller) finish(ctx context.Context, session *domain.FocusSession, end time.Time, detections int) error {
	elapsed := end.Sub(session.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	update := domain.Finalize(end, elapsed.Seconds(), detections)
	update.Apply(session)

	var errs []error
	if err := c.sessions.UpdateSession(ctx, session.ID, update); err != nil {
		c.logger.Error("Failed to finalize session", "session_id", session.ID, "error", err)
		errs = append(errs, fmt.Errorf("finalize session: %w", err))
	}
	if err := c.stats.Apply(ctx, session.UserID, domain.StatsDelta{FocusTimeDelta: session.Duration}); err != nil {
		errs = append(errs, fmt.Errorf("apply focus time: %w", err))
	}

	c.logger.Info("Focus session ended",
		"user_id", session.UserID,
		"session_id", session.ID,
		"duration", domain.FormatClock(session.Duration),
		"sleep_detections", session.SleepDetections)
	c.recorder.SessionEnded(session.UserID, elapsed, detections)

	ended := *session
	c.events.Emit(Event{Type: EventSessionEnded, At: end, SessionID: ended.ID, Session: &ended})
	return errors.Join(errs...)
}

// HandleEyeState feeds one eye-state estimate into the state machine.
// It is a no-op unless a session is running.
func (c *Controller) HandleEyeState(state domain.EyeState) {
	c.handle(0, state)
}

func (c *Controller) handle(gen uint64, state domain.EyeState) {
	c.mu.Lock()
	if c.state != StateMonitoring || (gen != 0 && gen != c.gen) {
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	gen = c.gen
	sessionID := c.session.ID
	var effects []func()
	var closedFor time.Duration

	if !state.IsOpen {
		if !c.eyesClosed {
			c.eyesClosed = true
			c.eyesClosedStart = now
		}
		closedFor = now.Sub(c.eyesClosedStart)
		if closedFor > c.cfg.ClosedThreshold && !c.inCooldown {
			effects = append(effects, c.triggerAlertLocked(now)...)
			c.inCooldown = true
		}
		c.cancelTaskLocked(taskCooldownExpiry)
	} else {
		c.eyesClosed = false
		if c.alertMessage != "" {
			c.alertMessage = ""
			effects = append(effects, func() {
				c.events.Emit(Event{Type: EventAlertCleared, At: now, SessionID: sessionID})
			})
		}
		if c.inCooldown && c.tasks[taskCooldownExpiry] == nil {
			c.scheduleLocked(taskCooldownExpiry, c.cfg.CooldownRelease, c.releaseCooldown)
		}
	}
	c.mu.Unlock()

	c.events.Emit(Event{
		Type:      EventEyeState,
		At:        now,
		SessionID: sessionID,
		EyeReport: &EyeReport{
			IsOpen:         state.IsOpen,
			ClosedDuration: closedFor.Seconds(),
			Confidence:     state.Confidence,
		},
	})
	c.runEffects(gen, effects...)
}

// runEffects runs effects unless the session of generation gen has ended.
func (c *Controller) runEffects(gen uint64, effects ...func()) {
	if len(effects) == 0 {
		return
	}
	c.effectsMu.Lock()
	defer c.effectsMu.Unlock()

	c.mu.Lock()
	live := c.state == StateMonitoring && c.gen == gen
	c.mu.Unlock()
	if !live {
		c.logger.Debug("Session ended, dropping pending effects", "count", len(effects))
		return
	}
	for _, effect := range effects {
		effect()
	}
}

// triggerAlertLocked records an incident and returns the side effects that
// announce it. The incident's stats delta is applied in the background so
// storage retries never hold up frame analysis; Stop waits for it.
func (c *Controller) triggerAlertLocked(now time.Time) []func() {
	phrase := c.alerter.RandomPhrase()
	c.sleepDetections++
	c.alertMessage = phrase

	userID := c.session.UserID
	sessionID := c.session.ID
	delta := domain.StatsDelta{
		SleepIncidentsDelta: 1,
		SleepTimeDelta:      c.cfg.SleepTimePerIncident.Seconds(),
	}

	c.incidents.Add(1)
	go c.recordIncident(c.incidents, userID, delta)

	return []func(){
		func() {
			c.logger.Info("Drowsiness detected", "user_id", userID, "session_id", sessionID)
			c.alerter.Play(phrase)
		},
		func() {
			c.recorder.AlertRaised(userID)
			c.events.Emit(Event{Type: EventAlertRaised, At: now, SessionID: sessionID, Phrase: phrase})
		},
	}
}

func (c *Controller) recordIncident(wg *sync.WaitGroup, userID string, delta domain.StatsDelta) {
	defer wg.Done()
	if err := c.stats.Apply(context.Background(), userID, delta); err != nil {
		c.logger.Error("Failed to record sleep incident", "user_id", userID, "error", err)
	}
}

func (c *Controller) releaseCooldown() func() {
	c.inCooldown = false
	return func() { c.logger.Debug("Cooldown released") }
}

func (c *Controller) tick() func() {
	at := c.clock.Now()
	elapsed := at.Sub(c.session.StartTime).Seconds()
	sessionID := c.session.ID
	c.scheduleLocked(taskSessionTick, c.cfg.TickInterval, c.tick)

	return func() {
		c.events.Emit(Event{
			Type:      EventSessionTime,
			At:        at,
			SessionID: sessionID,
			Seconds:   elapsed,
			Clock:     domain.FormatClock(elapsed),
		})
	}
}

// scheduleLocked replaces the task under key with fn after d. fn runs with
// mu held and only if the task is still current; the effect it returns runs
// after mu is released.
func (c *Controller) scheduleLocked(key taskKey, d time.Duration, fn func() func()) {
	c.cancelTaskLocked(key)
	c.taskSeq++
	id := c.taskSeq
	gen := c.gen
	t := &task{id: id}
	c.tasks[key] = t
	t.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		current, ok := c.tasks[key]
		if !ok || current.id != id || c.state != StateMonitoring {
			c.mu.Unlock()
			return
		}
		delete(c.tasks, key)
		effect := fn()
		c.mu.Unlock()

		if effect != nil {
			c.runEffects(gen, effect)
		}
	})
}

func (c *Controller) cancelTaskLocked(key taskKey) {
	t, ok := c.tasks[key]
	if !ok {
		return
	}
	delete(c.tasks, key)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// run drains the frame stream until the session ends.
func (c *Controller) run(gen uint64, stream capture.Stream, quit <-chan struct{}) {
	frames := stream.Frames()
	for {
		select {
		case <-quit:
			return
		case f, ok := <-frames:
			if !ok {
				c.streamEnded(gen)
				return
			}
			state, err := c.analyzer.Analyze(f, c.clock.Now())
			degenerate := errors.Is(err, domain.ErrAnalysisDegenerate)
			if err != nil && !degenerate {
				c.logger.Warn("Frame analysis failed", "error", err)
				continue
			}
			c.recorder.FrameAnalyzed(degenerate)
			c.handle(gen, state)
		}
	}
}

func (c *Controller) streamEnded(gen uint64) {
	c.mu.Lock()
	live := c.state == StateMonitoring && c.gen == gen
	c.mu.Unlock()
	if !live {
		return
	}
	c.logger.Info("Camera stream ended, stopping session")
	if err := c.Stop(context.Background()); err != nil {
		c.logger.Error("Failed to stop session after stream end", "error", err)
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          string               `json:"state"`
	Session        *domain.FocusSession `json:"session,omitempty"`
	Elapsed        float64              `json:"elapsed"`
	InCooldown     bool                 `json:"inCooldown"`
	ClosedDuration float64              `json:"closedDuration"`
	AlertMessage   string               `json:"alertMessage,omitempty"`
	Tasks          []string             `json:"tasks,omitempty"`
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:        c.state.String(),
		InCooldown:   c.inCooldown,
		AlertMessage: c.alertMessage,
	}
	for _, key := range []taskKey{taskSessionTick, taskCooldownExpiry} {
		if _, ok := c.tasks[key]; ok {
			st.Tasks = append(st.Tasks, string(key))
		}
	}
	if c.session == nil {
		return st
	}

	now := c.clock.Now()
	session := *c.session
	session.SleepDetections = c.sleepDetections
	session.Duration = now.Sub(session.StartTime).Seconds()
	st.Session = &session
	st.Elapsed = session.Duration
	if c.eyesClosed {
		st.ClosedDuration = now.Sub(c.eyesClosedStart).Seconds()
	}
	return st
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasPermission reports whether the camera is known to be usable.
func (c *Controller) HasPermission() bool {
	return c.source.HasPermission()
}
