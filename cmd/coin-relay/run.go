package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/coin-relay/internal/config"
	"github.com/sweeney/coin-relay/internal/control"
	"github.com/sweeney/coin-relay/internal/gpio"
	"github.com/sweeney/coin-relay/internal/ledger"
	"github.com/sweeney/coin-relay/internal/logic"
	"github.com/sweeney/coin-relay/internal/mqtt"
	"github.com/sweeney/coin-relay/internal/relay"
	"github.com/sweeney/coin-relay/internal/remote"
	"github.com/sweeney/coin-relay/internal/rpc"
	"github.com/sweeney/coin-relay/internal/status"
	"github.com/sweeney/coin-relay/internal/store"
	"github.com/sweeney/coin-relay/internal/web"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, settings, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	return run(cfg, settings, log)
}

func run(cfg *config.Store, settings config.Settings, log *zap.Logger) error {
	app := settings.App
	policy := app.PolicyValue()
	loc, err := app.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	// Restore persisted state; a missing or corrupt file starts from default.
	stateFile := store.New(app.StateFile, loc, log)
	restored, _ := stateFile.Load()

	polarity := relay.Polarity{ActiveLow: app.RelayActiveLow}
	driver, err := openDriver(app, polarity.Physical(restored.On))
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	output := relay.NewAdapter(driver, polarity)
	defer output.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Policy:           policy,
		ActiveLow:        app.RelayActiveLow,
		CheckIntervalMs:  app.CheckInterval().Milliseconds(),
		ReportIntervalMs: app.ReportInterval().Milliseconds(),
		DebounceMs:       app.Debounce().Milliseconds(),
		Broker:           settings.MQTT.Broker,
		HTTPAddr:         settings.HTTP.Addr,
		StateFile:        app.StateFile,
	})
	if info := readNetworkInfo(); info != nil {
		tracker.SetNetwork(info)
	}

	client := mqtt.NewRealClient(mqtt.Options{
		Broker:   settings.MQTT.Broker,
		ClientID: settings.MQTT.ClientID,
		Topics: mqtt.Topics{
			Status:  settings.MQTT.StatusTopic,
			Control: settings.MQTT.ControlTopic,
			System:  settings.MQTT.SystemTopic,
		},
		OnConnectionChange: tracker.SetMQTTConnected,
	}, log)
	defer client.Close()

	machine := logic.NewMachine(policy, app.Window(), restored)
	core := control.New(machine, output, stateFile, client, loc, log)
	tracker.Update(restored, app.Window())

	var history web.History
	if settings.Ledger.Enabled {
		led, err := ledger.Open(settings.Ledger.DSN, log)
		if err != nil {
			log.Warn("ledger disabled", zap.Error(err))
		} else {
			defer led.Close()
			core.Observe(led.Observer())
			history = led
		}
	}
	core.Observe(tracker.Record)
	core.Observe(func(tr logic.Transition) {
		cfg.SetLive(config.KeyMachineOn, tr.To.On)
	})

	if err := core.Start(); err != nil {
		return err
	}
	cfg.SetLive(config.KeyMachineOn, restored.On)

	bindConfig(cfg, core, log)
	defer cfg.Close()

	gateway := remote.New(cfg, stateFile, log)
	listenControl(client, settings.MQTT.ControlTopic, gateway, log)

	coins := control.NewCoinQueue()
	if policy == logic.PolicyCoin {
		watcher, err := gpio.WatchCoin(app.Chip, app.PinCoin, app.Debounce(), coins.Post)
		if err != nil {
			return fmt.Errorf("init coin input: %w", err)
		}
		defer watcher.Close()
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startupEvent); err != nil {
		log.Warn("failed to publish startup event", zap.Error(err))
	}

	if settings.HTTP.Addr != "" {
		ln, err := net.Listen("tcp", settings.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := web.New(settings.HTTP.Addr, tracker, rpc.NewHandler(gateway, log), history)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Info("http server listening", zap.String("addr", settings.HTTP.Addr))
	}

	log.Info("started",
		zap.String("policy", string(policy)),
		zap.Stringer("window", app.Window()),
		zap.Duration("check", app.CheckInterval()),
		zap.Duration("report", app.ReportInterval()),
		zap.String("broker", settings.MQTT.Broker),
	)

	check := time.NewTicker(app.CheckInterval())
	defer check.Stop()
	report := time.NewTicker(app.ReportInterval())
	defer report.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		core:       core,
		coins:      coins,
		publisher:  client,
		mqttStatus: client,
		tracker:    tracker,
		now:        time.Now,
		log:        log,
	}
	return l.run(check.C, report.C, sigCh)
}

// openDriver opens the configured relay driver at the given initial level.
func openDriver(app config.AppConfig, initialHigh bool) (relay.Driver, error) {
	switch app.RelayDriver {
	case "serial":
		d, err := relay.OpenSerial(app.RelaySerialPort, app.RelaySerialBaud)
		if err != nil {
			return nil, err
		}
		if err := d.SetLevel(initialHigh); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	default:
		line, err := gpio.OpenRelayLine(app.Chip, app.PinRelay, initialHigh)
		if err != nil {
			return nil, err
		}
		return line, nil
	}
}

// listenControl feeds control topic messages into the gateway. A failed
// subscription is retried by the client on reconnect.
func listenControl(sub mqtt.Subscriber, topic string, gateway *remote.Gateway, log *zap.Logger) {
	if err := sub.Subscribe(topic, gateway.HandleMessage); err != nil {
		log.Warn("control topic subscription failed", zap.String("topic", topic), zap.Error(err))
	}
}

// bindConfig wires config changes, remote or from file edits, into the core.
func bindConfig(cfg *config.Store, core *control.Core, log *zap.Logger) {
	cfg.OnChange(config.KeyMachineOn, func(v any) error {
		on, ok := v.(bool)
		if !ok {
			return fmt.Errorf("machine_on: unexpected %T", v)
		}
		return core.SetMachineOn(on)
	})

	window := func(any) error {
		s, err := cfg.Settings()
		if err != nil {
			return err
		}
		core.SetWindow(s.App.Window())
		return nil
	}
	for _, k := range []string{config.KeyStartHour, config.KeyStartMinute, config.KeyEndHour, config.KeyEndMinute} {
		cfg.OnChange(k, window)
	}

	cfg.OnChange(config.KeyTimezone, func(v any) error {
		s, err := cfg.Settings()
		if err != nil {
			return err
		}
		loc, err := s.App.Location()
		if err != nil {
			return err
		}
		core.SetLocation(loc)
		return nil
	})

	err := cfg.Watch(func(s config.Settings) {
		if w := s.App.Window(); w != core.Window() {
			core.SetWindow(w)
		}
		loc, err := s.App.Location()
		if err != nil {
			log.Warn("ignoring timezone from file", zap.Error(err))
			return
		}
		core.SetLocation(loc)
	})
	if err != nil {
		log.Warn("config file changes will not be picked up", zap.Error(err))
	}
}

// loop is the daemon's event loop. Only this goroutine calls Tick, Coin and
// Report; remote commands reach the core from transport goroutines.
type loop struct {
	core       *control.Core
	coins      *control.CoinQueue
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	now        func() time.Time
	log        *zap.Logger
}

func (l *loop) run(check, report <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			l.log.Info("shutting down", zap.Stringer("signal", s))
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			// Persist the final state before going away.
			l.core.Report()

			event := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				l.refreshTracker()
				snap := l.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				l.log.Warn("failed to publish shutdown event", zap.Error(err))
			}
			return nil

		case <-check:
			l.core.Tick()
			l.refreshTracker()

		case <-report:
			l.core.Report()
			if info := readNetworkInfo(); info != nil && l.tracker != nil {
				l.tracker.SetNetwork(info)
			}

		case <-l.coins.Ready():
			n := l.coins.Drain()
			for i := 0; i < n; i++ {
				l.core.Coin()
			}
		}
	}
}

func (l *loop) refreshTracker() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(l.core.State(), l.core.Window())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
