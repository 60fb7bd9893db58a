package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lannapoly/tiewson-kiosk/internal/assistant"
	"github.com/lannapoly/tiewson-kiosk/internal/bootstrap"
	"github.com/lannapoly/tiewson-kiosk/internal/bridge"
	"github.com/lannapoly/tiewson-kiosk/internal/completion"
	"github.com/lannapoly/tiewson-kiosk/internal/config"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/kiosk"
	"github.com/lannapoly/tiewson-kiosk/internal/logging"
	"github.com/lannapoly/tiewson-kiosk/internal/metrics"
	"github.com/lannapoly/tiewson-kiosk/internal/perception"
	"github.com/lannapoly/tiewson-kiosk/internal/presence"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk daemon",
	Long: `Serve starts the kiosk daemon: the WebSocket bridge the kiosk page connects
to, the admin API, Prometheus metrics and the kiosk page itself.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Override KIOSK_LISTEN_ADDR")
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	if addrFlag != "" {
		cfg.ListenAddr = addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Configure(os.Stdout, cfg.EMF, cfg.KioskID)

	clients, err := awsClients(ctx, cfg)
	if err != nil {
		return err
	}
	svc, err := contentService(cfg, clients)
	if err != nil {
		return err
	}
	completer := buildCompleter(ctx, cfg, clients)

	// --- Components ---

	hub := bridge.NewHub()
	var app *kiosk.App

	runner := presence.NewRunner(presence.DefaultTimings, func(tr presence.Transition) { app.OnTransition(tr) })

	adapter := perception.NewAdapter(perception.NewFaceServiceClient(cfg.FaceServiceURL), bridge.NewCamera(hub), perception.DefaultPeriod)
	adapter.StartLoading(ctx)

	ctrl := assistant.New(assistant.Config{
		Completer:         completer,
		Wake:              bridge.NewRecognizer(hub, assistant.Wake),
		Chat:              bridge.NewRecognizer(hub, assistant.Chat),
		Synthesizer:       bridge.NewSynthesizer(hub),
		Locale:            cfg.Locale,
		ConstrainedDevice: cfg.ConstrainedDevice,
		OnChange:          func(s assistant.State) { app.AssistantChanged(s) },
	})

	app = kiosk.New(kiosk.Config{
		Content:     svc,
		Presence:    runner,
		Perceiver:   adapter,
		Assistant:   ctrl,
		Publisher:   hub,
		Locale:      cfg.Locale,
		SkipConsent: cfg.SkipConsent,
	})
	hub.Handle(app)

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context){
		"presence":  runner.Run,
		"assistant": func(ctx context.Context) { ctrl.Run(ctx) },
		"kiosk":     func(ctx context.Context) { app.Run(ctx) },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			log.Debug().Str("loop", name).Msg("Loop stopped")
		}()
	}

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     newRouter(cfg, svc, hub),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the bridge WebSocket is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	logStartup(cfg, svc, completer, time.Since(initStart))

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting kiosk server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("Kiosk stopped")
	return nil
}

// --- Wiring helpers ---

func awsClients(ctx context.Context, cfg *config.Config) (*bootstrap.AWSClients, error) {
	if !cfg.NeedsAWS() {
		return nil, nil
	}
	clients, err := bootstrap.InitAWS(ctx)
	if err != nil {
		return nil, err
	}
	return &clients, nil
}

func contentService(cfg *config.Config, clients *bootstrap.AWSClients) (*content.Service, error) {
	repo, err := bootstrap.Repository(cfg, clients)
	if err != nil {
		return nil, err
	}
	return content.NewService(repo, bootstrap.Uploader(cfg, clients)), nil
}

// buildCompleter never fails the daemon: without a provider the assistant
// answers from its canned replies.
func buildCompleter(ctx context.Context, cfg *config.Config, clients *bootstrap.AWSClients) completion.Completer {
	var (
		c   completion.Completer
		err error
	)
	if clients != nil {
		c, err = bootstrap.Completer(ctx, cfg, clients.SSM)
	} else {
		c, err = bootstrap.Completer(ctx, cfg, nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.Provider).Msg("Completion provider unavailable; using canned replies")
		return nil
	}
	return c
}

func logStartup(cfg *config.Config, svc *content.Service, completer completion.Completer, initDuration time.Duration) {
	sl := logging.NewStartupLogger("kiosk").
		KioskID(cfg.KioskID).
		Version(Version).
		S3Bucket("media", cfg.MediaBucket).
		Endpoint("faceService", cfg.FaceServiceURL).
		Feature("uploads", svc.UploadsEnabled()).
		Feature("completion", completer != nil).
		Feature("constrainedDevice", cfg.ConstrainedDevice).
		Feature("skipConsent", cfg.SkipConsent).
		Feature("emf", cfg.EMF).
		Config("store", cfg.Store).
		Config("provider", cfg.Provider).
		Config("locale", string(cfg.Locale)).
		Config("listenAddr", cfg.ListenAddr).
		InitDuration(initDuration)
	if cfg.Store == config.StoreDynamo {
		sl.DynamoTable("content", cfg.ContentTable)
	}
	if cfg.Provider == config.ProviderGemini && cfg.GeminiAPIKey == "" {
		sl.SSMParam("geminiKey", cfg.SSMAPIKeyParam)
	}
	sl.Log()
}
