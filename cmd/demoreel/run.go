package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/config"
	"github.com/slcjordan/demoreel/input"
	"github.com/slcjordan/demoreel/journal"
	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/metrics"
	"github.com/slcjordan/demoreel/notify"
	"github.com/slcjordan/demoreel/replay"
	"github.com/slcjordan/demoreel/resolver"
	"github.com/slcjordan/demoreel/scene"
	"github.com/slcjordan/demoreel/session"
	"github.com/slcjordan/demoreel/timing"
	"github.com/slcjordan/demoreel/vision"
)

// teardown runs cleanups in reverse order and collects their errors.
type teardown struct {
	steps []func() error
}

func (t *teardown) add(f func() error) {
	t.steps = append(t.steps, f)
}

func (t *teardown) run() error {
	var errs demoreel.MultiError
	for i := len(t.steps) - 1; i >= 0; i-- {
		errs.Push(t.steps[i]())
	}
	return errs.ErrOrNil()
}

// run replays sc with everything cfg switches on around it. The scene error
// wins over teardown errors; both are logged.
func run(ctx context.Context, cfg *config.Config, sc *scene.Scene) (err error) {
	var td teardown
	var finish func(runErr error)
	defer func() {
		if finish != nil {
			finish(err)
		}
		if tdErr := td.run(); tdErr != nil {
			logger.Errorf(ctx, "teardown: %s", tdErr)
			if err == nil {
				err = tdErr
			}
		}
	}()

	if _, err := session.Cleanup(ctx, cfg.Cleanup.Paths...); err != nil {
		return err
	}

	if cfg.Resolver.Enabled {
		pc, err := resolver.Listen(cfg.Resolver.Addr)
		if err != nil {
			return err
		}
		res := resolver.New(resolver.Options{Hosts: cfg.Resolver.Hosts, Loopback: cfg.Resolver.Loopback})
		resCtx, cancel := context.WithCancel(ctx)
		served := make(chan error, 1)
		go func() { served <- res.Serve(resCtx, pc) }()
		td.add(func() error {
			cancel()
			return <-served
		})
	}

	displayName := os.Getenv("DISPLAY")
	env := os.Environ()
	if cfg.Display.Managed {
		display, err := session.StartDisplay(ctx, session.DisplayOptions{
			Number:      cfg.Display.Number,
			Width:       cfg.Display.Width,
			Height:      cfg.Display.Height,
			Xvfb:        cfg.Display.Xvfb,
			BannerBytes: cfg.Display.BannerBytes,
		})
		if err != nil {
			return err
		}
		td.add(display.Stop)
		displayName, env = display.Name(), display.Env()
	}
	if displayName == "" {
		return fmt.Errorf("no display: set DISPLAY or display.managed")
	}
	size := fmt.Sprintf("%dx%d", cfg.Display.Width, cfg.Display.Height)

	if cfg.App.Command != "" {
		app, err := session.StartApp(ctx, session.AppOptions{
			Command:     cfg.App.Command,
			Args:        cfg.App.Args,
			Dir:         cfg.App.WorkDir,
			Env:         env,
			GracePeriod: cfg.App.GracePeriod,
		})
		if err != nil {
			return err
		}
		td.add(func() error { return app.Stop(context.WithoutCancel(ctx)) })
	}

	runID := uuid.NewString()
	var conn *journal.Conn
	if cfg.Journal.Enabled {
		conn, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		td.add(conn.Close)
		if runID, err = conn.Begin(ctx, sc.Name, time.Now()); err != nil {
			return err
		}
	}
	ctx = logger.WithValue(ctx, "run", runID)

	// notifier is set below once MQTT is connected.
	var notifier *notify.Notifier
	finish = func(runErr error) {
		finish = nil
		at := time.Now()
		finishCtx := context.WithoutCancel(ctx)
		if conn != nil {
			if err := conn.Finish(finishCtx, runID, at, runErr); err != nil {
				logger.Errorf(ctx, "journal: %s", err)
			}
		}
		if notifier != nil {
			status := notify.StatusSucceeded
			if runErr != nil {
				status = notify.StatusFailed
			}
			if err := notifier.Status(status, runErr, at); err != nil {
				logger.Warnf(ctx, "publishing status: %s", err)
			}
		}
	}

	var listeners replay.Listeners
	if conn != nil {
		listeners = append(listeners, conn.Recorder(ctx, runID))
	}

	if cfg.MQTT.Enabled {
		client, err := notify.Connect(ctx, notify.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Prefix:   cfg.MQTT.TopicPrefix,
			RunID:    runID,
		})
		if err != nil {
			return err
		}
		td.add(client.Close)
		notifier = notify.New(ctx, client, cfg.MQTT.TopicPrefix, runID)
		listeners = append(listeners, notifier)
	}

	if cfg.InfluxDB.Enabled {
		client, err := metrics.Connect(ctx, metrics.Options{
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Org:           cfg.InfluxDB.Org,
			Bucket:        cfg.InfluxDB.Bucket,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval,
		})
		if err != nil {
			return err
		}
		td.add(client.Close)
		listeners = append(listeners, metrics.NewRecorder(client, sc.Name, runID))
	}

	var clicks *session.Clicks
	if cfg.Recording.Enabled && cfg.Recording.ClicksDir != "" {
		clicks, err = session.LoadClicks(ctx, cfg.Recording.ClicksDir, cfg.Recording.FFprobe, cfg.Typing.Seed)
		if err != nil {
			return err
		}
		listeners = append(listeners, clicks)
	}

	scratch := cfg.Vision.ScratchDir
	if scratch == "" {
		scratch, err = os.MkdirTemp("", "demoreel-")
		if err != nil {
			return err
		}
		td.add(func() error { return os.RemoveAll(scratch) })
	}

	engine, err := replay.New(replay.Options{
		Dispatcher: &input.Xdotool{Binary: cfg.Input.Xdotool, Env: env},
		Matcher: &vision.Visgrep{
			Display:    displayName,
			Size:       size,
			Env:        env,
			Tolerance:  cfg.Vision.Tolerance,
			ScratchDir: scratch,
			FFmpeg:     cfg.Vision.FFmpeg,
			Png2pat:    cfg.Vision.Png2pat,
			Visgrep:    cfg.Vision.Visgrep,
		},
		Jitter:       timing.NewJitter(cfg.Typing.Seed),
		Profile:      timing.Profile{WPM: cfg.Typing.WPM},
		PollInterval: cfg.Vision.PollInterval,
		Listener:     listeners,
	})
	if err != nil {
		return err
	}

	if cfg.App.ReadyTemplate != "" {
		ready := demoreel.WaitSpec{Template: sc.Template(cfg.App.ReadyTemplate, ""), Timeout: cfg.App.ReadyTimeout}
		if _, err := engine.WaitFor(ctx, ready); err != nil {
			return fmt.Errorf("waiting for %s to start: %w", cfg.App.Command, err)
		}
	}

	if notifier != nil {
		if err := notifier.Status(notify.StatusRunning, nil, time.Now()); err != nil {
			logger.Warnf(ctx, "publishing status: %s", err)
		}
	}

	var rec *session.Recorder
	if cfg.Recording.Enabled {
		rec, err = session.StartRecorder(ctx, session.RecorderOptions{
			Display:     displayName,
			Size:        size,
			Framerate:   cfg.Recording.Framerate,
			Output:      cfg.Recording.Output,
			Env:         env,
			FFmpeg:      cfg.Recording.FFmpeg,
			BannerBytes: 2500,
		})
		if err != nil {
			return err
		}
	}
	if clicks != nil {
		clicks.Start(time.Now())
	}

	runErr := sc.Run(ctx, engine)
	finishCtx := context.WithoutCancel(ctx)

	if rec != nil {
		if err := rec.Stop(finishCtx); err != nil && runErr == nil {
			runErr = err
		}
	}
	if clicks != nil && runErr == nil {
		if err := clicks.Save(finishCtx, cfg.Recording.FFmpeg, cfg.Recording.ClicksOutput); err != nil {
			runErr = err
		}
	}

	finish(runErr)
	if runErr != nil {
		return fmt.Errorf("scene %s: %w", sc.Name, runErr)
	}
	logger.Infof(ctx, "scene %s finished", sc.Name)
	return nil
}
