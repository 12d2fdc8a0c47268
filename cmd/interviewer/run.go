package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/config"
	"github.com/lexiqai/voice-interviewer/internal/console"
	"github.com/lexiqai/voice-interviewer/internal/device"
	"github.com/lexiqai/voice-interviewer/internal/evaluator"
	"github.com/lexiqai/voice-interviewer/internal/interview"
	"github.com/lexiqai/voice-interviewer/internal/journal"
	"github.com/lexiqai/voice-interviewer/internal/monitor"
	"github.com/lexiqai/voice-interviewer/internal/observability"
	"github.com/lexiqai/voice-interviewer/internal/resilience"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload a resume and run a voice interview",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("monitor") {
			cfg.MonitorEnabled, _ = cmd.Flags().GetBool("monitor")
		}

		resumePath, _ := cmd.Flags().GetString("resume")
		domain, _ := cmd.Flags().GetString("domain")
		resume, err := os.ReadFile(resumePath)
		if err != nil {
			return fmt.Errorf("read resume: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runInterview(ctx, cfg, interviewOptions{
			ResumeName: filepath.Base(resumePath),
			Resume:     resume,
			Domain:     domain,
			In:         cmd.InOrStdin(),
			Out:        cmd.OutOrStdout(),
		})
	},
}

func init() {
	runCmd.Flags().String("resume", "", "Resume file (.pdf or .docx)")
	runCmd.Flags().String("domain", "", "Interview domain, e.g. \"Backend Engineering\"")
	runCmd.Flags().Bool("monitor", false, "Serve health, metrics and the live session feed (overrides MONITOR_ENABLED)")
	runCmd.MarkFlagRequired("resume")
	runCmd.MarkFlagRequired("domain")
}

type interviewOptions struct {
	ResumeName string
	Resume     []byte
	Domain     string
	In         io.Reader
	Out        io.Writer
}

func runInterview(ctx context.Context, cfg *config.Config, opts interviewOptions) error {
	logger := observability.GetLogger()
	logger.Info().
		Str("evaluator_url", cfg.EvaluatorURL).
		Str("domain", opts.Domain).
		Str("log_level", cfg.LogLevel).
		Bool("monitor_enabled", cfg.MonitorEnabled).
		Msg("Voice interviewer starting")

	var j *journal.Journal
	if cfg.JournalPath != "" {
		var err error
		if j, err = journal.Open(cfg.JournalPath); err != nil {
			return err
		}
		defer j.Close()
	}

	client := evaluator.NewClient(evaluator.Config{
		BaseURL: cfg.EvaluatorURL,
		Timeout: cfg.RequestTimeout(),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	})

	fmt.Fprintln(opts.Out, console.Status.Render("Uploading resume and preparing the first question..."))
	start, err := client.StartInterview(ctx, evaluator.StartRequest{
		FileName: opts.ResumeName,
		Resume:   opts.Resume,
		Domain:   opts.Domain,
	})
	if err != nil {
		return fmt.Errorf("start interview: %w", err)
	}

	var rounds interview.RoundRecorder
	if j != nil {
		rounds = j
		if err := j.RecordSession(ctx, journal.Session{
			ID:             start.SessionID,
			Domain:         opts.Domain,
			ResumeName:     opts.ResumeName,
			CandidateName:  start.ResumeInfo.Name,
			CandidateEmail: start.ResumeInfo.Email,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal session")
		}
	}

	breaker := resilience.NewCircuitBreaker("evaluator", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	}

	format := audio.Format{SampleRate: cfg.AudioSampleRate, Channels: cfg.AudioChannels}
	mic, speaker := newDevices(cfg, format)

	var ui *console.Console
	reporter := interview.ReporterFunc(func(sessionID string, eval interview.Evaluation) {
		ui.Report(sessionID, eval)
		if j == nil {
			return
		}
		if err := j.RecordEvaluation(context.Background(), sessionID, eval); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal evaluation")
		}
	})

	ctrl := interview.NewController(interview.Config{
		Playback:   interview.NewPlaybackManager(speaker),
		Recording:  interview.NewRecordingManager(mic, format, audio.NewLevelMeter(audio.LevelConfig{EnergyThreshold: cfg.SpeechEnergyThreshold})),
		Countdown:  interview.NewCountdown(cfg.AnswerDuration(), cfg.TickInterval()),
		Submission: interview.NewSubmissionClient(client, start.SessionID, breaker),
		Reporter:   reporter,
		Rounds:     rounds,
	})

	ui = console.New(opts.In, opts.Out, ctrl)
	ui.Welcome(start.ResumeInfo.Name, opts.Domain, start.ResumeInfo.Skills)
	ctrl.Subscribe(ui.Render)

	g, gctx := errgroup.WithContext(ctx)
	// console and monitor outlive the session loop only until it returns
	uiCtx, stopUI := context.WithCancel(gctx)
	defer stopUI()

	if cfg.MonitorEnabled {
		checks := map[string]observability.HealthCheckFunc{
			"evaluator": func(ctx context.Context) (bool, error) {
				if err := client.Ping(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
		}
		if j != nil {
			checks["journal"] = func(ctx context.Context) (bool, error) {
				if err := j.Ping(ctx); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		mon := monitor.NewServer(monitor.Options{
			Host:           cfg.MonitorHost,
			Port:           cfg.MonitorPort,
			MetricsEnabled: cfg.MetricsEnabled,
			Checks:         checks,
			Controls:       ctrl,
		})
		ctrl.Subscribe(mon.Hub().Publish)
		g.Go(func() error { return mon.Run(uiCtx) })
	}

	g.Go(func() error { return ui.Run(uiCtx) })
	g.Go(func() error {
		defer stopUI()
		err := ctrl.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	asset, err := audio.AssetFromBase64(start.AudioBase64)
	if err != nil {
		// the session surfaces the load failure to the user
		logger.Error().Err(err).Str("question_id", start.Question.ID).Msg("First question audio unusable")
	}
	ctrl.Initialize(interview.Question{
		ID:   start.Question.ID,
		Text: start.Question.Text,
		Type: start.Question.Type,
	}, asset)

	if err := g.Wait(); err != nil {
		return err
	}

	if final := ctrl.Snapshot(); !final.Terminal {
		fmt.Fprintln(opts.Out, console.Hint.Render("Interview stopped before the evaluation was ready."))
		logger.Info().Str("session_id", ctrl.SessionID()).Str("phase", final.Phase.String()).Msg("Interview interrupted")
		return nil
	}
	logger.Info().Str("session_id", ctrl.SessionID()).Msg("Interview finished")
	return nil
}

// newDevices picks the microphone and speaker from configuration
func newDevices(cfg *config.Config, format audio.Format) (device.Microphone, device.Speaker) {
	var mic device.Microphone
	if cfg.MicInputFile != "" {
		mic = device.NewFileMicrophone(cfg.MicInputFile, format, true)
	} else {
		mic = device.NewExecMicrophone(cfg.MicCommand, cfg.MicArgs)
	}

	var speaker device.Speaker = device.NullSpeaker{}
	if cfg.SpeakerCommand != "" {
		speaker = device.NewExecSpeaker(cfg.SpeakerCommand, cfg.SpeakerArgs)
	}
	return mic, speaker
}
