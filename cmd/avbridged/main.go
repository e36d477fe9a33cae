// Command avbridge runs the switcher-to-processor bridge daemon: it
// watches a legacy video switcher for input changes and drives a video
// processor and AV receiver to follow, with an HTTP API and telemetry on
// the side.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"avbridge/internal/bridge"
	"avbridge/internal/clock"
	"avbridge/internal/config"
	"avbridge/internal/processor"
	"avbridge/internal/receiver"
	"avbridge/internal/switcher"
	"avbridge/internal/telemetry"
	"avbridge/internal/transport"
	"avbridge/internal/trigger"
	"avbridge/internal/web"
	"avbridge/internal/wifi"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// pollInterval drives the single-threaded update loop. Every controller
// is non-blocking, so a short tick keeps latency low without busy-waiting.
const pollInterval = 10 * time.Millisecond

func main() {
	// .env is optional; real deployments use the YAML config
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath(), "path to YAML config file")
	dev := flag.Bool("dev", false, "use human-readable development logging")
	flag.Parse()

	logger := newLogger(*dev)
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("Bridge exited", zap.Error(err))
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("AVBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "avbridge.yaml"
}

func newLogger(dev bool) *zap.Logger {
	if dev {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}

	clk := clock.NewRealClock()

	swTr, err := openTransport(cfg.Switcher.Device, cfg.Switcher.Baud, transport.FrameLF, logger.Named("switcher-link"))
	if err != nil {
		return fmt.Errorf("open switcher link: %w", err)
	}
	defer swTr.Close()

	procTr, err := openTransport(cfg.Processor.Device, cfg.Processor.Baud, transport.FrameCR, logger.Named("processor-link"))
	if err != nil {
		return fmt.Errorf("open processor link: %w", err)
	}
	defer procTr.Close()

	sw, err := switcher.New(switcher.Kind(cfg.Switcher.Kind), swTr, clk, logger)
	if err != nil {
		return err
	}
	sw.SetAutoSwitch(cfg.Switcher.AutoSwitch)

	table := trigger.NewTable(cfg.ToMappings(), logger)
	logger.Info("Trigger table loaded", zap.Int("mappings", table.Len()))

	proc := processor.New(procTr,
		processor.PowerMode(cfg.Processor.PowerMode),
		time.Duration(cfg.Processor.BootTimeout),
		clk, logger)

	var recv *receiver.Controller
	if cfg.Receiver.Enabled {
		recvTr := transport.NewTCP(cfg.Receiver.Address, transport.FrameCR, logger.Named("receiver-link"))
		defer recvTr.Close()
		recv = receiver.New(recvTr, cfg.Receiver.Input, clk, logger)
	}

	var wm *wifi.Manager
	if cfg.Wifi.Interface != "" {
		drv, err := wifi.NewShellDriver(cfg.Wifi.Interface, clk, logger)
		if err != nil {
			logger.Warn("WiFi management disabled", zap.Error(err))
		} else {
			wm = wifi.NewManager(drv, clk, logger)
			if cfg.Wifi.SSID != "" {
				if err := wm.Connect(cfg.Wifi.SSID, cfg.Wifi.Password); err != nil {
					logger.Warn("Initial WiFi connect failed", zap.Error(err))
				}
			}
		}
	}

	var pub telemetry.Publisher = telemetry.Nop{}
	if cfg.Telemetry.Broker != "" {
		mq := telemetry.NewMQTTPublisher(cfg.Telemetry.Broker, cfg.Telemetry.Topic,
			"avbridge-"+cfg.Wifi.Hostname, logger)
		defer mq.Close()
		pub = mq
	}

	b := bridge.New(sw, table, proc, recv, wm, pub, clk, logger)

	srv := web.NewServer(b, cfg, configPath, logger)
	b.AddListener(srv.HandleEvent)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv.Router(),
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running",
		zap.String("switcher", cfg.Switcher.Device),
		zap.String("processor", cfg.Processor.Device),
		zap.Bool("receiver", cfg.Receiver.Enabled))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Update()
		case sig := <-sigCh:
			logger.Info("Shutting down", zap.String("signal", sig.String()))
			return nil
		}
	}
}

// openTransport picks TCP for "host:port" device strings and serial for
// everything else.
func openTransport(device string, baud int, framing transport.Framing, logger *zap.Logger) (transport.Transport, error) {
	if strings.Contains(device, ":") && !strings.HasPrefix(device, "/") {
		return transport.NewTCP(device, framing, logger), nil
	}
	return transport.NewSerial(device, baud, framing, logger)
}
