package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	_ "kiln_control/docs"
	"kiln_control/internal/clock"
	"kiln_control/internal/config"
	"kiln_control/internal/estimator"
	"kiln_control/internal/firing"
	"kiln_control/internal/gpio"
	"kiln_control/internal/handlers"
	"kiln_control/internal/logger"
	"kiln_control/internal/modbus"
	"kiln_control/internal/observability"
	"kiln_control/internal/pid"
	"kiln_control/internal/repository"
	"kiln_control/internal/repository/db"
	"kiln_control/internal/schedule"
	"kiln_control/internal/sensor"
	"kiln_control/internal/server"
	"kiln_control/internal/service"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"

	"github.com/pborman/getopt/v2"
)

const (
	defaultConfigFile = "configs/config.yml"
	shutdownTimeout   = 10 * time.Second
)

type options struct {
	configFile   string
	logLevel     string
	resumeOffset time.Duration
}

// hardware is what the regulation loop talks to: a temperature source, the
// element switch, an optional zero-cross input and an optional power meter.
type hardware struct {
	source   supervisor.SensorSource
	actuator firing.Actuator
	signal   firing.ZeroCrossSignal
	meter    service.PowerReader
	closers  []io.Closer
}

func (hw *hardware) Close() {
	for i := len(hw.closers) - 1; i >= 0; i-- {
		_ = hw.closers[i].Close()
	}
}

// @title                      Kiln Control API
// @version                    1.0
// @description                Temperature regulation of an electric ceramics kiln.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.resumeOffset > 0 {
		cfg.Regulation.ResumeOffset = opts.resumeOffset
	}
	log := logger.Get(cfg.Log.Level, cfg.Log.Format)
	log.Infow("config_loaded", "file", opts.configFile, "sensor", cfg.Sensor.Driver, "firing", cfg.Firing.Mode)

	if err := run(cfg, log); err != nil {
		log.Fatalw("kiln controller failed", "err", err)
	}
}

func parseFlags() options {
	configFile := getopt.StringLong("config", 'c', defaultConfigFile, "config file pathname")
	logLevel := getopt.StringLong("log-level", 'l', "", "log level: debug, info, warn, error")
	resume := getopt.StringLong("resume-offset", 'o', "", "start the default curve at this offset (hh:mm or 90m)")
	help := getopt.BoolLong("help", 'h', "display help")
	getopt.Parse()

	if *help {
		getopt.Usage()
		os.Exit(0)
	}

	opts := options{configFile: *configFile, logLevel: *logLevel}
	if opts.configFile == defaultConfigFile && !fileExists(opts.configFile) {
		// run on defaults and KILN_* overrides
		opts.configFile = ""
	}
	if *resume != "" {
		d, err := parseOffset(*resume)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --resume-offset %q: %v\n", *resume, err)
			os.Exit(2)
		}
		opts.resumeOffset = d
	}
	return opts
}

func parseOffset(s string) (time.Duration, error) {
	if d, err := schedule.ParseClock(s); err == nil {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("offset must not be negative")
	}
	return d, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// shutdownSignals starts capturing SIGINT and SIGTERM. The caller must
// call signal.Stop on the returned channel.
func shutdownSignals() chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

func run(cfg *config.Config, log *logger.Logger) error {
	clk := clock.Real{}

	// installed before any goroutine can switch the element on
	quit := shutdownSignals()
	defer signal.Stop(quit)

	sqlDB, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()
	repos := repository.NewRepository(sqlDB)
	curves := schedule.NewLibrary(cfg.Curves.Dir)

	hw, err := openHardware(cfg, clk, log)
	if err != nil {
		return err
	}
	defer hw.Close()

	engine, err := newEngine(cfg, hw, clk, log.Named("firing"))
	if err != nil {
		return err
	}

	reg, err := pid.FromParams(cfg.PIDParams())
	if err != nil {
		return err
	}
	reg.WithClock(clk).WithLogger(log.Named("pid"))

	bus := telemetry.NewBus(log.Named("bus"))
	defer bus.Close()

	sup, err := supervisor.New(cfg.Supervisor(), hw.source, estimator.New(), reg, engine)
	if err != nil {
		return err
	}
	sup.WithClock(clk).WithLogger(log.Named("supervisor")).WithSink(telemetry.SupervisorSink{Bus: bus})

	services := service.NewService(service.Deps{
		Repos:        repos,
		Controller:   sup,
		Curves:       curves,
		Firing:       engine,
		Bus:          bus,
		DefaultCurve: cfg.Curves.Default,
		Auth:         service.AuthConfig{SigningKey: cfg.Auth.SigningKey, TokenTTL: cfg.Auth.TokenTTL},
		Recording: service.RecorderConfig{
			StateInterval:  cfg.Recorder.StateInterval,
			SampleInterval: cfg.Recorder.SampleInterval,
		},
		Log: log.Named("service"),
	})

	// background workers: recorder, power, mqtt, metrics
	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	spawn := func(fn func(ctx context.Context)) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			fn(bgCtx)
		}()
	}
	spawn(services.Recorder.Run)

	if hw.meter != nil {
		monitor := service.NewPowerMonitor(hw.meter, bus, cfg.PowerMeter.Interval, clk, log.Named("power"))
		spawn(monitor.Run)
	}

	if cfg.MQTT.Enabled {
		client := telemetry.ConnectMQTT(cfg.MQTT.Broker, mqttClientID(cfg), log.Named("mqtt"))
		defer client.Disconnect()
		spawn(telemetry.NewBridge(client, bus, sup, cfg.MQTT.Topic, log.Named("mqtt")).Run)
	}

	apiHandler := handlers.NewHandler(services, log).WithBus(bus)
	if cfg.Metrics.Enabled {
		collector, err := observability.NewKilnCollector(nil)
		if err != nil {
			bgCancel()
			return err
		}
		host := observability.NewHostSampler(filepath.Dir(cfg.DB.Path), log.Named("host"))
		spawn(func(ctx context.Context) { collector.Feed(ctx, bus, engine.Stats) })
		spawn(func(ctx context.Context) { host.Run(ctx, cfg.Metrics.HostInterval, collector) })
		apiHandler.WithMetrics(collector.Handler())
	}

	// firing engine on its own OS thread
	firingCtx, firingCancel := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		engineDone <- engine.Run(firingCtx)
	}()

	supCtx, supCancel := context.WithCancel(context.Background())
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(supCtx)
	}()

	if cfg.Regulation.ResumeOffset > 0 {
		id, err := services.Kiln.Start(supCtx, service.StartParams{ResumeOffset: cfg.Regulation.ResumeOffset})
		if err != nil {
			log.Errorw("resume_failed", "offset", cfg.Regulation.ResumeOffset, "err", err)
		} else {
			log.Infow("session_resumed", "session_id", id, "offset", cfg.Regulation.ResumeOffset)
		}
	}

	srv := &server.Server{}
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Run(cfg.Port, apiHandler.InitRoutes())
	}()
	log.Infow("http_listening", "port", cfg.Port)

	var runErr error
	engineReturned := false
	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-engineDone:
		engineReturned = true
		runErr = fmt.Errorf("firing engine stopped: %w", err)
		sup.Escalate(err)
		// one more tick lets the loop report SAFETY_FAULT before it stops
		time.Sleep(cfg.Regulation.Tick)
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	signal.Stop(quit)

	supCancel()
	<-supDone

	firingCancel()
	if !engineReturned {
		if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("firing_engine_error", "err", err)
		}
	}
	if err := hw.actuator.Set(false); err != nil {
		log.Errorw("final_actuator_off_failed", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	bgCancel()
	bg.Wait()
	log.Infow("kiln controller stopped")
	return runErr
}

func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to init sqlite: %w", err)
	}
	log.Infow("sqlite_opened", "path", cfg.DB.Path)
	return sqlDB, nil
}

func openHardware(cfg *config.Config, clk clock.Clock, log *logger.Logger) (*hardware, error) {
	log = logger.OrNop(log)
	hw := &hardware{}
	var plant *sensor.SimulatedKiln
	if cfg.Sensor.Driver == config.DriverSimulated || cfg.GPIO.Driver == config.DriverSimulated {
		k, err := sensor.NewSimulatedKiln(cfg.Plant(), clk)
		if err != nil {
			return nil, err
		}
		plant = k
	}

	switch cfg.Sensor.Driver {
	case config.DriverMAX31855:
		dev, err := sensor.OpenSPI(cfg.Sensor.SPIDevice)
		if err != nil {
			return nil, err
		}
		hw.closers = append(hw.closers, dev)
		hw.source = sensor.NewSPIThermocouple(dev)
	case config.DriverModbus:
		regs, err := modbus.LoadRegisterMap(cfg.Modbus.RegisterMap)
		if err != nil {
			return nil, err
		}
		client, err := modbus.NewClient(cfg.ModbusLink(), regs, log.Named("modbus"))
		if err != nil {
			return nil, err
		}
		hw.closers = append(hw.closers, client)
		src, err := sensor.NewModbusSource(client, cfg.Sensor.ModbusRegister, cfg.Sensor.SecondaryRegister)
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.source = src
	default:
		hw.source = plant
	}

	if cfg.GPIO.Driver == config.DriverSysfs {
		out, err := gpio.OpenOutput(cfg.GPIO.Root, cfg.GPIO.SSRPin, cfg.GPIO.ActiveLow)
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.closers = append(hw.closers, out)
		hw.actuator = out
		if cfg.Firing.Mode == config.FiringZeroCross {
			edge, err := gpio.OpenEdgeInput(cfg.GPIO.Root, cfg.GPIO.ZeroCrossPin, cfg.GPIO.EdgeTimeout)
			if err != nil {
				hw.Close()
				return nil, err
			}
			hw.closers = append(hw.closers, edge)
			hw.signal = edge
		}
	} else {
		hw.actuator = plant
	}

	switch {
	case cfg.PowerMeter.Enabled:
		client, err := modbus.NewClient(cfg.PowerMeterLink(), nil, log.Named("pzem"))
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.closers = append(hw.closers, client)
		meter, err := sensor.NewPowerMeter(client, clk)
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.meter = meter
	case plant != nil:
		hw.meter = sensor.NewSimulatedMeter(plant, cfg.Simulator.SupplyVoltage, clk)
	}

	log.Infow("hardware_ready", "sensor", cfg.Sensor.Driver, "gpio", cfg.GPIO.Driver, "power_meter", hw.meter != nil)
	return hw, nil
}

func newEngine(cfg *config.Config, hw *hardware, clk clock.Clock, log *logger.Logger) (firing.Engine, error) {
	if cfg.Firing.Mode != config.FiringZeroCross {
		return firing.NewTimeProportional(hw.actuator, cfg.Firing.CyclePeriod, cfg.Firing.StaleAfter, clk, log)
	}
	edges := hw.signal
	if edges == nil {
		// no zero-cross input: synthesize the mains edges
		hz := float64(time.Second) / float64(2*cfg.Firing.HalfCycle)
		edges = firing.NewLineSignal(hz, clk)
	}
	return firing.NewZeroCross(hw.actuator, edges, cfg.Firing.HalfCycle, cfg.Firing.StaleAfter, clk, log)
}

func mqttClientID(cfg *config.Config) string {
	if cfg.MQTT.ClientID != "" {
		return cfg.MQTT.ClientID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "controller"
	}
	return "kiln-" + host
}
