// Package alert raises drowsiness alerts: an audible tone, a looping alarm,
// haptic feedback and a best-effort OS notification.
package alert

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/clock"
)

// DefaultAutoStop is how long an alarm plays before stopping on its own.
const DefaultAutoStop = 20 * time.Second

const (
	notificationTitle   = "FocusForge Alert!"
	notificationTimeout = 5 * time.Second
)

// CommandType names an instruction for the client's audio/haptic outputs.
type CommandType string

const (
	// CommandTone plays the one-shot alert tone.
	CommandTone CommandType = "alert_tone"
	// CommandAlarmLoop starts the looping background alarm.
	CommandAlarmLoop CommandType = "alarm_loop"
	// CommandVibrate triggers haptic feedback where available.
	CommandVibrate CommandType = "vibrate"
	// CommandAlarmStop halts all alert audio.
	CommandAlarmStop CommandType = "alarm_stop"
)

// VibrationPattern is the on/off pattern in milliseconds sent with CommandVibrate.
var VibrationPattern = []int{200, 100, 200, 100, 200}

var wakePhrases = []string{
	"Utho bhai! Neend me padhna mana hai! 🎯",
	"Zyada mat socho, bas padho! 💪",
	"Focus karo! Aankhein khol lo! ⚡",
	"Padhai se bhaag mat yaar! 🏆",
	"Arey! Neend ko maaro goli, chalo padho! 🚀",
	"Rise and grind! Time to focus! 📚",
	"Your goals are waiting! Wake up! 🎯",
	"Stay strong, stay awake! 💪",
	"Eyes open, mind sharp! Focus time! ⭐",
	"Don't let sleep win this battle! 🔥",
}

// Phrases returns a copy of the wake phrase table.
func Phrases() []string {
	out := make([]string, len(wakePhrases))
	copy(out, wakePhrases)
	return out
}

// Command is sent to the client to drive alert outputs.
type Command struct {
	Type    CommandType `json:"type"`
	Phrase  string      `json:"phrase,omitempty"`
	Pattern []int       `json:"pattern,omitempty"`
}

// Sink receives alert commands.
type Sink interface {
	SendAlertCommand(cmd Command)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cmd Command)

// SendAlertCommand calls f(cmd).
func (f SinkFunc) SendAlertCommand(cmd Command) { f(cmd) }

// Desktop shows OS-level notifications.
type Desktop interface {
	Notify(ctx context.Context, title, body string) error
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithDesktop enables OS notifications through d.
func WithDesktop(d Desktop) Option {
	return func(n *Notifier) { n.desktop = d }
}

// WithAutoStop overrides the alarm duration.
func WithAutoStop(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.autoStop = d
		}
	}
}

// WithPicker overrides the phrase picker. pick(n) must return a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(n *Notifier) { n.pick = pick }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// Notifier plays at most one alert at a time.
type Notifier struct {
	clock    clock.Clock
	sink     Sink
	desktop  Desktop
	autoStop time.Duration
	pick     func(n int) int
	logger   *slog.Logger

	mu       sync.Mutex
	alerting bool
	gen      uint64
	timer    clock.Timer
	notifyWg sync.WaitGroup
}

// NewNotifier creates a notifier that sends commands to sink.
func NewNotifier(clk clock.Clock, sink Sink, opts ...Option) *Notifier {
	if clk == nil {
		clk = clock.System{}
	}
	n := &Notifier{
		clock:    clk,
		sink:     sink,
		autoStop: DefaultAutoStop,
		pick:     rand.IntN,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// RandomPhrase returns a uniformly chosen wake phrase.
func (n *Notifier) RandomPhrase() string {
	return wakePhrases[n.pick(len(wakePhrases))]
}

// Play starts an alert. It returns false without side effects when an alert
// is already playing.
func (n *Notifier) Play(phrase string) bool {
	n.mu.Lock()
	if n.alerting {
		n.mu.Unlock()
		return false
	}
	n.alerting = true
	n.gen++
	gen := n.gen
	n.timer = n.clock.AfterFunc(n.autoStop, func() { n.expire(gen) })
	n.mu.Unlock()

	n.send(Command{Type: CommandTone, Phrase: phrase})
	n.send(Command{Type: CommandAlarmLoop})
	n.send(Command{Type: CommandVibrate, Pattern: VibrationPattern})

	if n.desktop != nil {
		n.notifyWg.Add(1)
		go func() {
			defer n.notifyWg.Done()
			n.notifyDesktop(phrase)
		}()
	}
	return true
}

func (n *Notifier) notifyDesktop(phrase string) {
	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()
	if err := n.desktop.Notify(ctx, notificationTitle, phrase); err != nil {
		n.logger.Debug("Desktop notification not shown", "error", err)
	}
}

// expire stops the alarm unless the alert it belongs to already ended.
func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen || !n.alerting {
		n.mu.Unlock()
		return
	}
	n.alerting = false
	n.timer = nil
	n.mu.Unlock()

	n.logger.Debug("Alarm auto-stopped", "after", n.autoStop)
	n.send(Command{Type: CommandAlarmStop})
}

// Stop halts the alarm and cancels the auto-stop. It is idempotent.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.alerting {
		n.mu.Unlock()
		return
	}
	n.alerting = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	n.send(Command{Type: CommandAlarmStop})
}

// Active reports whether an alert is playing.
func (n *Notifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alerting
}

// Wait blocks until in-flight desktop notifications finish.
func (n *Notifier) Wait() {
	n.notifyWg.Wait()
}

func (n *Notifier) send(cmd Command) {
	if n.sink != nil {
		n.sink.SendAlertCommand(cmd)
	}
}
