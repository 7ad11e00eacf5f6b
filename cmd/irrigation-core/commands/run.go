package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxopenhome/irrigation-core/internal/config"
	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/metrics"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/adjust"
	"github.com/fluxopenhome/irrigation-core/internal/services/engine"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/services/timeline"
	"github.com/fluxopenhome/irrigation-core/internal/services/weather"
	"github.com/fluxopenhome/irrigation-core/internal/store"
	"github.com/fluxopenhome/irrigation-core/pkg/mqttbus"
)

const staleAfter = 120 * time.Minute

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the decision engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd.Context())
		},
	}
}

func runEngine(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mqttClient, err := mqttbus.Connect(ctx, &cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer mqttClient.Disconnect(250)

	registry := entity.NewRegistry()
	bridge := entity.NewBridge(mqttClient, registry)
	go bridge.Run(ctx)

	var influxClient influxdb2.Client
	var writer *history.Writer
	if cfg.Influx.Token != "" {
		influxClient = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influxClient.Close()
		writer = history.NewWriter(influxClient.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket))
		defer writer.Flush()
	} else {
		log.Warn().Msg("no influx token configured, run history stays in memory only")
	}
	recorder := history.NewRecorder(writer, db)

	cache, err := moisture.NewSensorCache(bridge, db, staleAfter)
	if err != nil {
		return fmt.Errorf("sensor cache: %w", err)
	}
	moistureSvc, err := moisture.NewService(cache, db)
	if err != nil {
		return fmt.Errorf("moisture service: %w", err)
	}

	var wxClient weather.Client
	if cfg.Weather.APIKey != "" {
		wxClient = weather.NewBreakerClient(weather.NewOpenWeatherClient(
			cfg.Weather.APIKey, cfg.Weather.Latitude, cfg.Weather.Longitude, cfg.Weather.Units))
	} else {
		log.Warn().Msg("no weather api key configured, weather rules stay idle")
	}

	var eng *engine.Engine

	wx, err := weather.NewEngine(weather.Deps{
		Client:           wxClient,
		Entities:         bridge,
		Store:            db,
		Recorder:         recorder,
		Zones:            func() []model.Zone { return eng.Zones() },
		ScheduleSwitches: func() []model.EntityRef { return eng.ScheduleRefs() },
	})
	if err != nil {
		return fmt.Errorf("weather engine: %w", err)
	}

	mgr, err := adjust.NewManager(adjust.Deps{
		Entities: bridge,
		Store:    db,
		Recorder: recorder,
		Zones:    func() []model.Zone { return eng.Zones() },
	})
	if err != nil {
		return fmt.Errorf("adjust manager: %w", err)
	}

	builder, err := timeline.NewBuilder(timeline.BuilderDeps{
		Entities:  bridge,
		Store:     db,
		Zones:     func() []model.Zone { return eng.Zones() },
		Probes:    moistureSvc.Probes,
		Schedules: func() []model.EntityRef { return eng.ScheduleRefs() },
	})
	if err != nil {
		return fmt.Errorf("timeline builder: %w", err)
	}

	machine, err := timeline.NewMachine(timeline.MachineDeps{
		Entities:    bridge,
		Store:       db,
		Recorder:    recorder,
		Moisture:    moistureSvc,
		Timeline:    builder.Current,
		Zones:       func() []model.Zone { return eng.Zones() },
		AutoAdvance: func() []model.EntityRef { return eng.AutoAdvanceRefs() },
		Weather:     wx.MoistureContext,
	})
	if err != nil {
		return fmt.Errorf("prep machine: %w", err)
	}

	poller := timeline.NewAwakePoller(timeline.PollerDeps{
		Entities: bridge,
		Moisture: moistureSvc,
		Cache:    cache,
		Machine:  machine,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eng, err = engine.NewEngine(engine.Deps{
		Cfg:      cfg,
		Entities: bridge,
		Registry: registry,
		Store:    db,
		Recorder: recorder,
		Weather:  wx,
		Moisture: moistureSvc,
		Adjust:   mgr,
		Builder:  builder,
		Machine:  machine,
		Poller:   poller,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	mux := engine.NewHTTPMux(eng)
	mux.Handle("/healthz", engine.NewHealthHandler(mqttClient, influxClient, writer))
	mux.Handle("/readyz", engine.NewReadyHandler(mqttClient, writer))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	eng.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
