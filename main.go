// Package main provides the entry point for the license plate reader.
package main

import (
	"context"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/dialog"
	"github.com/rs/zerolog"

	"plate-reader/internal/app"
	"plate-reader/internal/capture"
	"plate-reader/internal/config"
	"plate-reader/internal/export"
	"plate-reader/internal/logging"
	"plate-reader/internal/pipeline"
	"plate-reader/internal/version"
	"plate-reader/ui/mainwindow"
	"plate-reader/ui/prefs"
)

const appID = "vn.platereader.desktop"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(config.Default().Log)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(cfg.Log)
	log.Info().Str("version", version.String()).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The service reports progress through the state, which is built after it.
	var state *app.State
	pipe, err := pipeline.Build(ctx, cfg, func(msg string) { state.SetStatus(msg) }, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise detection")
	}
	defer pipe.Close()

	state = app.NewState(cfg, app.Deps{
		Detector: pipe.Service,
		Opener:   capture.OpenCamera(cfg.Camera.FPS),
		Exporter: export.New(log),
	}, log)
	go state.Run(ctx)

	fyneApp := fyneapp.NewWithID(appID)
	fyneApp.Settings().SetTheme(&app.PlateTheme{})

	win := mainwindow.New(ctx, fyneApp, state, prefs.Load(), log)

	if cfg.UI.HotReload {
		setupHotReload(win, log)
	}

	win.ShowAndRun()
	state.Close()
	log.Info().Msg("stopped")
}

// setupHotReload offers a restart when the binary is rebuilt.
func setupHotReload(win *mainwindow.MainWindow, log zerolog.Logger) {
	reloader, err := app.NewHotReloader("", log)
	if err != nil {
		log.Warn().Err(err).Msg("hot reload unavailable")
		return
	}
	log.Info().Str("path", reloader.ExecPath()).Msg("hot reload: watching binary")

	reloader.OnNewBinary(func() {
		fyne.Do(func() {
			dialog.ShowConfirm("Phiên bản mới", "Ứng dụng đã được cập nhật.\nKhởi động lại ngay?", func(yes bool) {
				if !yes {
					reloader.ResetBaseline()
					return
				}
				log.Info().Msg("hot reload: restarting")
				if err := reloader.Restart(); err != nil {
					log.Error().Err(err).Msg("hot reload: restart failed")
				}
			}, win)
		})
	})
	reloader.Start()
}
