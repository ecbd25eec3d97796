package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/ashureev/focusforge/internal/alert"
	"github.com/ashureev/focusforge/internal/capture"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/identity"
	"github.com/ashureev/focusforge/internal/shared"
	"github.com/ashureev/focusforge/internal/stats"
	"github.com/ashureev/focusforge/internal/store"
	"github.com/ashureev/focusforge/internal/vision"
	"github.com/spf13/cobra"
)

const replayUser = "replay"

type analyzeOptions struct {
	brightness      float64
	contrast        float64
	replay          bool
	interval        time.Duration
	repeat          int
	closedThreshold time.Duration
	timeout         time.Duration
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <image>...",
		Short: "Run the eye-state analyzer on PNG or JPEG images",
		Long: `Classify still images with the frame analyzer, or replay them as a
camera stream through a full focus session.

Examples:
  focusctl analyze face.png                              # Metrics and verdict per image
  focusctl analyze --contrast 10 *.jpg                   # Custom thresholds
  focusctl analyze --replay --repeat 60 open.png shut.png # Drive a session, print events`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("brightness") {
				opts.brightness = a.cfg.Engine.BrightnessThreshold
			}
			if !cmd.Flags().Changed("contrast") {
				opts.contrast = a.cfg.Engine.ContrastThreshold
			}
			if !cmd.Flags().Changed("closed-threshold") {
				opts.closedThreshold = a.cfg.Engine.ClosedThreshold
			}

			frames := make([]vision.Frame, 0, len(args))
			for _, path := range args {
				f, err := loadFrame(path)
				if err != nil {
					return err
				}
				frames = append(frames, f)
			}

			analyzer := vision.NewAnalyzer(vision.Thresholds{Brightness: opts.brightness, Contrast: opts.contrast})
			if opts.replay {
				return runReplay(cmd.Context(), cmd.OutOrStdout(), a, analyzer, frames, opts)
			}
			return printAnalysis(cmd.OutOrStdout(), analyzer, args, frames)
		},
	}

	cmd.Flags().Float64Var(&opts.brightness, "brightness", 0, "Brightness threshold (default: BRIGHTNESS_THRESHOLD)")
	cmd.Flags().Float64Var(&opts.contrast, "contrast", 0, "Contrast threshold (default: CONTRAST_THRESHOLD)")
	cmd.Flags().BoolVar(&opts.replay, "replay", false, "Replay the images as a camera stream through a focus session")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Delay between replayed frames")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Number of times each image is replayed in a row")
	cmd.Flags().DurationVar(&opts.closedThreshold, "closed-threshold", 0, "Closed-eye time before an alert (default: CLOSED_THRESHOLD)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Give up on a replay after this long")
	return cmd
}

func loadFrame(path string) (vision.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return vision.FrameFromImage(img), nil
}

func printAnalysis(out io.Writer, analyzer *vision.Analyzer, names []string, frames []vision.Frame) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tSIZE\tBRIGHTNESS\tCONTRAST\tEYES\tCONFIDENCE")
	fmt.Fprintln(w, "-----\t----\t----------\t--------\t----\t----------")
	now := time.Now()
	for i, f := range frames {
		m, err := vision.Measure(f)
		if err != nil {
			fmt.Fprintf(w, "%s\t%dx%d\t-\t-\tclosed\t0.00\n", names[i], f.Width, f.Height)
			continue
		}
		state := analyzer.Classify(m, now)
		eyes := "closed"
		if state.IsOpen {
			eyes = "open"
		}
		fmt.Fprintf(w, "%s\t%dx%d\t%.1f\t%.1f\t%s\t%.2f\n",
			names[i], f.Width, f.Height, m.AvgBrightness, m.AvgContrast, eyes, state.Confidence)
	}
	return w.Flush()
}

// lineWriter serializes JSON lines from concurrent emitters.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (l *lineWriter) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(v)
}

func runReplay(ctx context.Context, out io.Writer, a *app, analyzer *vision.Analyzer, images []vision.Frame, opts analyzeOptions) error {
	repeat := max(opts.repeat, 1)
	frames := make([]vision.Frame, 0, len(images)*repeat)
	for _, f := range images {
		for range repeat {
			frames = append(frames, f)
		}
	}

	mem := store.NewMemory()
	if err := identity.EnsureUser(ctx, mem, replayUser); err != nil {
		return err
	}
	agg := stats.NewAggregator(mem, shared.DefaultRetryPolicy(), nil)

	lines := &lineWriter{enc: json.NewEncoder(out)}
	ended := make(chan struct{})
	var once sync.Once
	events := focus.SinkFunc(func(ev focus.Event) {
		lines.write(ev)
		if ev.Type == focus.EventSessionEnded {
			once.Do(func() { close(ended) })
		}
	})

	cfg := focus.Config{
		ClosedThreshold:      opts.closedThreshold,
		CooldownRelease:      a.cfg.Engine.CooldownRelease,
		SleepTimePerIncident: a.cfg.Engine.SleepTimePerIncident,
		TickInterval:         a.cfg.Engine.TickInterval,
	}
	ctrl := focus.NewController(cfg, focus.Dependencies{
		Source:   capture.NewReplay(frames, opts.interval),
		Analyzer: analyzer,
		Alerter: alert.NewNotifier(nil, alert.SinkFunc(func(c alert.Command) { lines.write(c) }),
			alert.WithAutoStop(a.cfg.Engine.AlertAutoStop)),
		Sessions: mem,
		Stats:    agg,
		Events:   events,
	})

	if err := ctrl.Start(ctx, replayUser); err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}

	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()
	select {
	case <-ended:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), ctrl.Stop(context.Background()))
	case <-timer.C:
		return errors.Join(
			fmt.Errorf("replay did not finish within %s", opts.timeout),
			ctrl.Stop(context.Background()),
		)
	}

	totals, err := agg.Totals(ctx, replayUser)
	if err != nil {
		return err
	}
	lines.write(map[string]any{"type": "summary", "stats": totals})
	return nil
}
