package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/export"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	withTray := flag.Bool("tray", false, "show the system tray menu")
	mock := flag.Bool("mock", false, "use mock detectors and no camera")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	if err := run(cfg, *withTray, *mock); err != nil {
		slog.Error("mudra failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(cfg *config.Config, withTray, mock bool) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Export.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.Export.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	shared, err := export.NewFileSink(cfg.Export.SharedDir)
	if err != nil {
		return fmt.Errorf("shared export directory: %w", err)
	}

	sinks := map[export.Target]export.Sink{
		export.TargetShared:  shared,
		export.TargetPrivate: export.NewStoreSink(st.Sessions()),
	}
	if m := cfg.Export.MQTT; m.Broker != "" {
		sink, client, err := export.DialMQTT(export.MQTTConfig{
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			QoS:      m.QoS,
			Timeout:  m.Timeout,
		})
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		sinks[export.TargetBroker] = sink
	}

	a := app.New(app.Config{
		Camera:          newCamera(cfg, mock),
		FPS:             cfg.Camera.FPS,
		IdleFPS:         cfg.Camera.IdleFPS,
		IdleAfter:       cfg.Camera.IdleAfter,
		MotionThreshold: cfg.Camera.MotionThreshold,
		Factory:         newFactory(cfg, mock),
		Pose:            cfg.Pose.Detector(),
		Hand:            cfg.Hand.Detector(),
		Mode:            cfg.Session.Mode,
		MaxFrames:       cfg.Session.MaxFrames,
		Window:          cfg.Session.Window,
		Recording:       cfg.Session.Record,
		DefaultName:     cfg.Export.DefaultName,
		Sinks:           sinks,
		Settings:        st.Settings(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer a.Stop()

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	srv := server.New(server.Config{StaticDir: staticDir, App: a, Store: st})
	defer srv.Close()

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr, "static", staticDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if withTray {
		runTray(ctx, a, cfg, stop)
	} else {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newCamera(cfg *config.Config, mock bool) capture.Camera {
	if mock {
		return nil
	}
	return capture.NewCamera(cfg.Camera.Options())
}

// newFactory returns MediaPipe engines when the landmarker service is
// found and mock engines otherwise.
func newFactory(cfg *config.Config, mock bool) detector.Factory {
	if mock {
		return detector.MockFactory(detector.NewMockEngine(), detector.NewMockEngine())
	}

	scripts := map[detector.Kind]string{
		detector.KindPose: cfg.Pose.Script,
		detector.KindHand: cfg.Hand.Script,
	}
	for kind, path := range scripts {
		if path == "" {
			path = detector.FindScript()
		}
		if path == "" {
			slog.Warn("landmarker service not found, using mock detectors", "script", detector.ScriptName)
			return detector.MockFactory(detector.NewMockEngine(), detector.NewMockEngine())
		}
		scripts[kind] = path
	}

	pose := detector.MediaPipeFactory(scripts[detector.KindPose])
	hand := detector.MediaPipeFactory(scripts[detector.KindHand])
	return func(kind detector.Kind, c detector.Config) (detector.Engine, error) {
		if kind == detector.KindHand {
			return hand(kind, c)
		}
		return pose(kind, c)
	}
}

// runTray blocks on the tray menu until Quit is chosen or ctx ends.
func runTray(ctx context.Context, a *app.App, cfg *config.Config, quit func()) {
	t := tray.New(a.Recording())
	t.OnRecord(a.SetRecording)
	t.OnPause(func(paused bool) error {
		if paused {
			return a.Pause()
		}
		return a.Resume()
	})
	t.OnExport(func() (int, error) {
		_, res, err := a.Export(context.Background(), export.TargetShared, "")
		return res.NFrames, err
	})
	t.OnSettings(func() { openBrowser("http://localhost" + cfg.Server.Addr) })
	t.OnQuit(quit)

	unsubscribe := a.Recorder().Subscribe(func(ev session.FrameEvent) { t.SetFrames(ev.NFrames) })
	defer unsubscribe()

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("opening browser", "url", url, "error", err)
	}
}

// findWebDir searches for the web directory in common locations.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".mudra", "web")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
