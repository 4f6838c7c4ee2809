package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubh-37/x-autoposter/internal/agents"
	"github.com/shubh-37/x-autoposter/internal/metrics"
	"github.com/shubh-37/x-autoposter/internal/models"
)

// intentFlags are shared by the commands that build an intent from flags.
type intentFlags struct {
	id       string
	content  string
	file     string
	mode     string
	replyTo  string
	segments []string
	source   string
	buildID  string
	runID    string
	testOnly bool
}

func (f *intentFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "intent-id", "", "Intent id (generated when empty)")
	cmd.Flags().StringVarP(&f.content, "content", "c", "", "Content to post")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read content from a file, - for stdin")
	cmd.Flags().StringVar(&f.mode, "mode", string(models.ModeSingle), "single, thread or reply")
	cmd.Flags().StringVar(&f.replyTo, "reply-to", "", "Post id to reply to")
	cmd.Flags().StringArrayVar(&f.segments, "segment", nil, "Pre-split thread segment, repeatable")
	cmd.Flags().StringVar(&f.source, "source", "cli", "Provenance source")
	cmd.Flags().StringVar(&f.buildID, "build-id", "", "Provenance build id")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Provenance run id (generated when empty)")
	cmd.Flags().BoolVar(&f.testOnly, "test-only", false, "Mark the intent as a test intent")
}

func (f *intentFlags) intent(stdin io.Reader) (*models.PostIntent, error) {
	content := f.content
	switch {
	case f.file == "-":
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		content = string(raw)
	case f.file != "":
		raw, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.file, err)
		}
		content = string(raw)
	}
	if strings.TrimSpace(content) == "" && len(f.segments) == 0 {
		return nil, errors.New("no content: use --content, --file or --segment")
	}
	if content == "" {
		content = strings.Join(f.segments, "\n\n")
	}

	mode := models.PostMode(f.mode)
	switch mode {
	case models.ModeSingle, models.ModeThread, models.ModeReply:
	default:
		return nil, fmt.Errorf("unknown mode %q", f.mode)
	}

	runID := f.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	intent := models.NewPostIntent(content, mode, models.Provenance{Source: f.source, BuildID: f.buildID, RunID: runID})
	intent.ID = f.id
	intent.Segments = f.segments
	intent.TestOnly = f.testOnly
	if f.replyTo != "" {
		intent.WithReplyTo(f.replyTo)
	}
	return intent, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}
		return a.db.Migrate(ctx)
	},
}

var registerFlags intentFlags

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a post intent and issue its permit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		intent, err := registerFlags.intent(cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}

		permit, err := a.gate.Register(ctx, intent)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"intent_id":  intent.ID,
			"permit_id":  permit.ID,
			"status":     permit.Status,
			"expires_at": permit.ExpiresAt,
		})
	},
}

var (
	postFlags intentFlags
	postHints agents.Hints
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish a registered intent",
	Long: `Publishes the intent named by --intent-id. A test intent built from flags
with --test-only is registered on the fly instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{browser: true})
		if err != nil {
			return err
		}
		defer a.Close()

		intent, err := loadIntent(ctx, a, cmd)
		if err != nil {
			return err
		}

		result := a.facade(postHints).Post(ctx, *intent)
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("posting failed: %s: %s", result.ErrorKind, result.Error)
		}
		return nil
	},
}

// loadIntent reads a registered intent, or builds a test intent from flags.
func loadIntent(ctx context.Context, a *app, cmd *cobra.Command) (*models.PostIntent, error) {
	if postFlags.id != "" && postFlags.content == "" && postFlags.file == "" && len(postFlags.segments) == 0 {
		if err := a.requireDB(); err != nil {
			return nil, err
		}
		intent, err := a.intents.GetIntent(ctx, postFlags.id)
		if err != nil {
			return nil, fmt.Errorf("failed to load intent %s: %w", postFlags.id, err)
		}
		return intent, nil
	}

	intent, err := postFlags.intent(cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	if !intent.TestOnly && !a.cfg.Posting.DryRun {
		return nil, errors.New("unregistered content can only be posted with --test-only; use register first")
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	return intent, nil
}

var planFlags intentFlags

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how content would be segmented and published",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		intent, err := planFlags.intent(cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.facade(postHints).Plan(ctx, *intent, intent.Content)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"mode":         plan.Mode,
			"segmentation": plan.Segmentation.Strategy,
			"segments":     plan.Segmentation.Segments,
			"format":       plan.Format,
		})
	},
}

var decideFormatCmd = &cobra.Command{
	Use:   "decide-format",
	Short: "Decide between a single post and a thread from posting history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}

		decision, err := a.scheduler.WithHints(postHints).PreferredFormat(ctx, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), decision)
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List today's posting slots and whether posting is allowed now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}

		now := time.Now()
		allowed, reason := a.scheduler.Allowed(ctx, now)
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"slots":     a.scheduler.Slots(now),
			"next_slot": a.scheduler.NextSlot(now),
			"allowed":   allowed,
			"reason":    reason,
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire permits whose TTL has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}

		n, err := a.gate.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d permit(s)\n", n)
		return nil
	},
}

var scoreFlags struct {
	intentID   string
	quality    float64
	engagement float64
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Record quality and engagement for a published intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireDB(); err != nil {
			return err
		}
		return a.results.RecordPerformance(ctx, scoreFlags.intentID, scoreFlags.quality, scoreFlags.engagement)
	},
}

var (
	metricsAddr   string
	sweepInterval time.Duration
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve /metrics and /health, sweeping stale permits periodically",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		addr := metricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		if addr == "" {
			addr = ":9090"
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return metrics.NewServer(addr, a.recorder, a.healthChecks(), logger).Run(ctx)
		})
		if a.db != nil && sweepInterval > 0 {
			g.Go(func() error {
				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if n, err := a.gate.Sweep(ctx); err != nil {
							logger.Warn("permit sweep failed", zap.Error(err))
						} else if n > 0 {
							logger.Info("🧹 expired stale permits", zap.Int64("count", n))
						}
					}
				}
			})
		}
		return g.Wait()
	},
}

func init() {
	registerFlags.bind(registerCmd)
	postFlags.bind(postCmd)
	planFlags.bind(planCmd)

	for _, cmd := range []*cobra.Command{postCmd, planCmd, decideFormatCmd} {
		cmd.Flags().StringVar(&postHints.Urgency, "urgency", "", "Urgency hint: high, normal or low")
		cmd.Flags().StringVar(&postHints.TargetEngagement, "target-engagement", "", "Engagement hint: high or low")
		cmd.Flags().StringVar(&postHints.Topic, "topic", "", "Topic hint")
	}

	scoreCmd.Flags().StringVar(&scoreFlags.intentID, "intent-id", "", "Published intent id")
	scoreCmd.Flags().Float64Var(&scoreFlags.quality, "quality", 0, "Quality score between 0 and 1")
	scoreCmd.Flags().Float64Var(&scoreFlags.engagement, "engagement", 0, "Engagement rate between 0 and 1")
	scoreCmd.MarkFlagRequired("intent-id")

	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "Listen address (default METRICS_ADDR or :9090)")
	serveMetricsCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "Permit sweep interval, 0 disables")
}
