// Gray Logic DMX bridge
//
// graylogic-dmx drives a DMX-TRI class USB Pro widget: it discovers RDM
// responders, dispatches RDM GET/SET requests and outputs the HTP merge of
// every DMX source, all controlled over MQTT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/bridges/dmx"
	"github.com/nerrad567/gray-logic-dmx/internal/eventloop"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
	"github.com/nerrad567/gray-logic-dmx/internal/usbpro"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds each step that waits on the event loop.
	shutdownTimeout = 2 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until ctx is cancelled.
// Shutdown runs through the defers in reverse start-up order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic DMX bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	bridgeCfg, err := bridgeConfig(cfg)
	if err != nil {
		return err
	}

	// MQTT, with the offline health message as the will
	will, err := healthWill(bridgeCfg.ID)
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// The loop and the widget outlive ctx so the bridge can still flush
	// and the engine can drop its queue during shutdown.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := eventloop.New(eventloop.LoopOptions{Logger: log.Component("eventloop")})
	go func() {
		if runErr := loop.Run(loopCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error("event loop stopped", "error", runErr)
		}
	}()
	defer func() {
		log.Info("stopping event loop")
		loop.Stop()
		stopLoop()
	}()

	widget, err := usbpro.OpenWidget(loopCtx, usbpro.WidgetConfig{
		Device:      cfg.Widget.Device,
		BaudRate:    cfg.Widget.BaudRate,
		ReadTimeout: cfg.GetReadTimeout(),
	}, loop)
	if err != nil {
		return fmt.Errorf("opening widget: %w", err)
	}
	defer func() {
		log.Info("closing widget", "device", cfg.Widget.Device)
		if closeErr := widget.Close(); closeErr != nil {
			log.Error("error closing widget", "error", closeErr)
		}
	}()
	widget.SetLogger(log.Component("usbpro"))
	log.Info("widget opened", "device", cfg.Widget.Device, "baud_rate", cfg.Widget.BaudRate)

	// The engine is built before the bridge, so its callbacks resolve the
	// bridge lazily. Both callbacks run on the loop.
	var bridgeRef atomic.Pointer[dmx.Bridge]
	engine, err := usbpro.NewTriWidget(usbpro.TriWidgetOptions{
		Transport:      widget,
		Scheduler:      loop,
		Logger:         log.Component("rdm"),
		StatusInterval: cfg.GetStatusInterval(),
		OnUIDSetChange: func(uids rdm.UIDSet) {
			if b := bridgeRef.Load(); b != nil {
				b.HandleUIDSetChange(uids)
			}
		},
		OnResponse: func(req *rdm.Request, resp *rdm.Response) {
			if b := bridgeRef.Load(); b != nil {
				b.HandleRDMResponse(req, resp)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("creating RDM engine: %w", err)
	}
	defer func() {
		log.Info("closing RDM engine")
		if execErr := runOnLoop(loop, engine.Close, shutdownTimeout); execErr != nil {
			log.Warn("engine close did not run", "error", execErr)
		}
	}()

	opts := dmx.BridgeOptions{
		Config:     bridgeCfg,
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Executor:   loop,
		Engine:     engine,
		Link:       widget,
		Logger:     log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	bridge, err := dmx.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating DMX bridge: %w", err)
	}
	bridgeRef.Store(bridge)

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting DMX bridge: %w", err)
	}
	defer func() {
		log.Info("stopping DMX bridge")
		bridge.Stop()
		m := bridge.GetMetrics()
		log.Info("DMX bridge stopped",
			"rdm_requests_sent", m.RDMRequestsSent,
			"rdm_responses", m.RDMResponses,
			"request_timeouts", m.RequestTimeouts,
			"commands_received", m.CommandsReceived,
			"outbox_dropped", m.OutboxDropped,
		)
	}()
	log.Info("DMX bridge started", "bridge_id", bridgeCfg.ID)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected", "subscriptions", mqttClient.SubscriptionCount())
		if pubErr := bridge.PublishHealth(); pubErr != nil {
			log.Warn("health republish failed", "error", pubErr)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.Widget.DiscoverOnStart {
		if discErr := bridge.RunDiscovery(); discErr != nil {
			log.Warn("initial discovery not started", "error", discErr)
		}
	}
	if refresh := cfg.GetDiscoveryRefresh(); refresh > 0 {
		go runEvery(ctx, refresh, func() {
			if discErr := bridge.RunDiscovery(); discErr != nil {
				log.Warn("discovery refresh not started", "error", discErr)
			}
		})
	}
	if influxClient != nil {
		go runEvery(ctx, cfg.GetHealthInterval(), func() {
			influxClient.WriteLinkStats(bridgeCfg.ID, widget.Stats())
			influxClient.WriteEngineStats(bridgeCfg.ID, engine.Stats())
		})
	}

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeConfig maps the loaded configuration onto the bridge settings.
func bridgeConfig(cfg *config.Config) (dmx.Config, error) {
	sourceUID := dmx.DefaultSourceUID
	if cfg.Bridge.SourceUID != "" {
		uid, err := rdm.ParseUID(cfg.Bridge.SourceUID)
		if err != nil {
			return dmx.Config{}, fmt.Errorf("parsing bridge.source_uid: %w", err)
		}
		sourceUID = uid
	}

	bc := dmx.Config{
		ID:             cfg.Bridge.ID,
		Device:         cfg.Widget.Device,
		HealthInterval: cfg.GetHealthInterval(),
		RequestTimeout: cfg.GetRequestTimeout(),
		DMXRefresh:     cfg.GetDMXRefresh(),
		SourceUID:      sourceUID,
	}
	if err := bc.Validate(); err != nil {
		return dmx.Config{}, fmt.Errorf("bridge config: %w", err)
	}
	return bc, nil
}

// healthWill builds the retained offline message the broker publishes if
// the daemon disappears without stopping the bridge.
func healthWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(dmx.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding will: %w", err)
	}
	return &mqtt.Will{Topic: dmx.HealthTopic(), Payload: payload}, nil
}

// connectInflux connects telemetry when enabled. It returns a nil client
// when InfluxDB is disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// runEvery calls fn every interval until ctx is cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// runOnLoop runs fn on the loop and waits for it to finish.
func runOnLoop(loop *eventloop.Loop, fn func(), timeout time.Duration) error {
	done := make(chan struct{})
	if err := loop.Execute(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %v", timeout)
	}
}

// healthCheck verifies the infrastructure connections. influxClient may
// be nil when telemetry is disabled.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the DMX
// bridge's MQTTClient interface. The bridge's handlers return nothing.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish sends retained state with the broker's configured QoS.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if retained {
		return a.client.PublishRetained(topic, payload)
	}
	return a.client.Publish(topic, payload, qos, false)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect is a no-op: the MQTT client's lifecycle belongs to run's
// defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
