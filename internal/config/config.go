package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kiln_control/internal/logger"
	"kiln_control/internal/modbus"
	"kiln_control/internal/pid"
	"kiln_control/internal/sensor"
	"kiln_control/internal/supervisor"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: KILN_PORT, KILN_PID_KP, ...
const EnvPrefix = "KILN"

// Sensor, firing and GPIO drivers.
const (
	DriverSimulated = "simulated"
	DriverMAX31855  = "max31855"
	DriverModbus    = "modbus"
	DriverSysfs     = "sysfs"

	FiringTimeProportional = "time_proportional"
	FiringZeroCross        = "zero_cross"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port       string           `mapstructure:"port"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Regulation RegulationConfig `mapstructure:"regulation"`
	PID        PIDConfig        `mapstructure:"pid"`
	Firing     FiringConfig     `mapstructure:"firing"`
	Sensor     SensorConfig     `mapstructure:"sensor"`
	Modbus     ModbusConfig     `mapstructure:"modbus"`
	PowerMeter PowerMeterConfig `mapstructure:"power_meter"`
	GPIO       GPIOConfig       `mapstructure:"gpio"`
	Curves     CurvesConfig     `mapstructure:"curves"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type RegulationConfig struct {
	Tick                   time.Duration `mapstructure:"tick"`
	MaxPowerUnits          float64       `mapstructure:"max_power_units"`
	SensorFailureThreshold int           `mapstructure:"sensor_failure_threshold"`
	FailSafeRampCycles     int           `mapstructure:"fail_safe_ramp_cycles"`
	EndPolicy              string        `mapstructure:"end_policy"`
	ResumeOffset           time.Duration `mapstructure:"resume_offset"`
	ReadTimeout            time.Duration `mapstructure:"read_timeout"`
}

type PIDConfig struct {
	Kp        float64 `mapstructure:"kp"`
	Ki        float64 `mapstructure:"ki"`
	Kd        float64 `mapstructure:"kd"`
	OutputMin float64 `mapstructure:"output_min"`
	OutputMax float64 `mapstructure:"output_max"`
}

type FiringConfig struct {
	Mode        string        `mapstructure:"mode"`
	CyclePeriod time.Duration `mapstructure:"cycle_period"`
	HalfCycle   time.Duration `mapstructure:"half_cycle"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
}

type SensorConfig struct {
	Driver            string `mapstructure:"driver"`
	SPIDevice         string `mapstructure:"spi_device"`
	ModbusRegister    string `mapstructure:"modbus_register"`
	SecondaryRegister string `mapstructure:"secondary_register"`
}

type ModbusConfig struct {
	Transport   string        `mapstructure:"transport"`
	Address     string        `mapstructure:"address"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	Parity      string        `mapstructure:"parity"`
	StopBits    int           `mapstructure:"stop_bits"`
	SlaveID     int           `mapstructure:"slave_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RegisterMap string        `mapstructure:"register_map"`
}

type PowerMeterConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	BaudRate int           `mapstructure:"baud_rate"`
	SlaveID  int           `mapstructure:"slave_id"`
	Interval time.Duration `mapstructure:"interval"`
}

type GPIOConfig struct {
	Driver       string        `mapstructure:"driver"`
	Root         string        `mapstructure:"root"`
	SSRPin       int           `mapstructure:"ssr_pin"`
	ActiveLow    bool          `mapstructure:"active_low"`
	ZeroCrossPin int           `mapstructure:"zero_cross_pin"`
	EdgeTimeout  time.Duration `mapstructure:"edge_timeout"`
}

type CurvesConfig struct {
	Dir     string `mapstructure:"dir"`
	Default string `mapstructure:"default"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

type RecorderConfig struct {
	StateInterval  time.Duration `mapstructure:"state_interval"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	HostInterval time.Duration `mapstructure:"host_interval"`
}

type SimulatorConfig struct {
	AmbientC          float64 `mapstructure:"ambient_c"`
	MaxPowerW         float64 `mapstructure:"max_power_w"`
	HeatCapacityJPerC float64 `mapstructure:"heat_capacity_j_per_c"`
	LossWPerC         float64 `mapstructure:"loss_w_per_c"`
	IRBiasC           float64 `mapstructure:"ir_bias_c"`
	SupplyVoltage     float64 `mapstructure:"supply_voltage"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", logger.InfoLevel)
	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("db.path", "kiln.db")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	sup := supervisor.DefaultConfig()
	v.SetDefault("regulation.tick", sup.Tick)
	v.SetDefault("regulation.max_power_units", sup.MaxPowerUnits)
	v.SetDefault("regulation.sensor_failure_threshold", sup.FailureThreshold)
	v.SetDefault("regulation.fail_safe_ramp_cycles", sup.RampCycles)
	v.SetDefault("regulation.end_policy", string(sup.EndPolicy))
	v.SetDefault("regulation.resume_offset", time.Duration(0))
	v.SetDefault("regulation.read_timeout", sup.ReadTimeout)

	v.SetDefault("pid.kp", 320.0)
	v.SetDefault("pid.ki", 160.0)
	v.SetDefault("pid.kd", 8.0)
	v.SetDefault("pid.output_min", 0.0)
	v.SetDefault("pid.output_max", sup.MaxPowerUnits)

	v.SetDefault("firing.mode", FiringTimeProportional)
	v.SetDefault("firing.cycle_period", time.Second)
	v.SetDefault("firing.half_cycle", 10*time.Millisecond)
	v.SetDefault("firing.stale_after", 5*time.Second)

	v.SetDefault("sensor.driver", DriverSimulated)
	v.SetDefault("sensor.spi_device", "/dev/spidev0.0")
	v.SetDefault("sensor.modbus_register", "thermocouple")
	v.SetDefault("sensor.secondary_register", "")

	v.SetDefault("modbus.transport", modbus.RTU)
	v.SetDefault("modbus.address", "/dev/ttyUSB0")
	v.SetDefault("modbus.baud_rate", 9600)
	v.SetDefault("modbus.data_bits", 8)
	v.SetDefault("modbus.parity", "N")
	v.SetDefault("modbus.stop_bits", 1)
	v.SetDefault("modbus.slave_id", 1)
	v.SetDefault("modbus.timeout", 500*time.Millisecond)
	v.SetDefault("modbus.register_map", "configs/registers.yml")

	v.SetDefault("power_meter.enabled", false)
	v.SetDefault("power_meter.address", "/dev/ttyUSB1")
	v.SetDefault("power_meter.baud_rate", 9600)
	v.SetDefault("power_meter.slave_id", 1)
	v.SetDefault("power_meter.interval", 2*time.Second)

	v.SetDefault("gpio.driver", DriverSimulated)
	v.SetDefault("gpio.root", "/sys/class/gpio")
	v.SetDefault("gpio.ssr_pin", 17)
	v.SetDefault("gpio.active_low", false)
	v.SetDefault("gpio.zero_cross_pin", 27)
	v.SetDefault("gpio.edge_timeout", 100*time.Millisecond)

	v.SetDefault("curves.dir", "curves")
	v.SetDefault("curves.default", "Bisquit")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic", "kiln")

	v.SetDefault("recorder.state_interval", 5*time.Second)
	v.SetDefault("recorder.sample_interval", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host_interval", 15*time.Second)

	plant := sensor.DefaultPlant()
	v.SetDefault("simulator.ambient_c", plant.AmbientC)
	v.SetDefault("simulator.max_power_w", plant.MaxPowerW)
	v.SetDefault("simulator.heat_capacity_j_per_c", plant.HeatCapacityJC)
	v.SetDefault("simulator.loss_w_per_c", plant.LossWPerC)
	v.SetDefault("simulator.ir_bias_c", plant.IRBiasC)
	v.SetDefault("simulator.supply_voltage", 230.0)
}

// Load reads the YAML file at path, applies KILN_* environment overrides and
// validates the result. An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !logger.ValidLevel(c.Log.Level) {
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !logger.ValidFormat(c.Log.Format) {
		add("log.format %q is not console or json", c.Log.Format)
	}
	if c.DB.Path == "" {
		add("db.path is required")
	}
	if c.Auth.TokenTTL <= 0 {
		add("auth.token_ttl must be positive")
	}
	if err := c.Supervisor().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Regulation.ResumeOffset < 0 {
		add("regulation.resume_offset must not be negative")
	}
	if err := c.PIDParams().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Firing.Mode {
	case FiringTimeProportional:
		if c.Firing.CyclePeriod <= 0 {
			add("firing.cycle_period must be positive")
		}
	case FiringZeroCross:
		if c.Firing.HalfCycle <= 0 {
			add("firing.half_cycle must be positive")
		}
	default:
		add("firing.mode %q must be %s or %s", c.Firing.Mode, FiringTimeProportional, FiringZeroCross)
	}
	if c.Firing.StaleAfter < 0 {
		add("firing.stale_after must not be negative")
	}

	switch c.Sensor.Driver {
	case DriverSimulated:
		if err := c.Plant().Validate(); err != nil {
			errs = append(errs, err)
		}
	case DriverMAX31855:
	case DriverModbus:
		if c.Sensor.ModbusRegister == "" {
			add("sensor.modbus_register is required for the modbus driver")
		}
		if err := c.ModbusLink().Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		add("sensor.driver %q is unknown", c.Sensor.Driver)
	}

	switch c.GPIO.Driver {
	case DriverSimulated, DriverSysfs:
	default:
		add("gpio.driver %q is unknown", c.GPIO.Driver)
	}
	if c.Firing.Mode == FiringZeroCross && c.GPIO.Driver == DriverSysfs && c.GPIO.EdgeTimeout <= 0 {
		add("gpio.edge_timeout must be positive")
	}

	if c.PowerMeter.Enabled {
		if err := c.PowerMeterLink().Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.PowerMeter.Interval <= 0 {
			add("power_meter.interval must be positive")
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}
	if c.Recorder.StateInterval <= 0 || c.Recorder.SampleInterval <= 0 {
		add("recorder intervals must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Tick:             c.Regulation.Tick,
		MaxPowerUnits:    c.Regulation.MaxPowerUnits,
		FailureThreshold: c.Regulation.SensorFailureThreshold,
		RampCycles:       c.Regulation.FailSafeRampCycles,
		EndPolicy:        supervisor.EndPolicy(c.Regulation.EndPolicy),
		ReadTimeout:      c.Regulation.ReadTimeout,
	}
}

func (c *Config) PIDParams() pid.Params {
	return pid.Params{
		Kp:        c.PID.Kp,
		Ki:        c.PID.Ki,
		Kd:        c.PID.Kd,
		OutputMin: c.PID.OutputMin,
		OutputMax: c.PID.OutputMax,
	}
}

func (c *Config) ModbusLink() modbus.Config {
	return modbus.Config{
		Transport: c.Modbus.Transport,
		Address:   c.Modbus.Address,
		BaudRate:  c.Modbus.BaudRate,
		DataBits:  c.Modbus.DataBits,
		Parity:    c.Modbus.Parity,
		StopBits:  c.Modbus.StopBits,
		SlaveID:   byte(c.Modbus.SlaveID),
		Timeout:   c.Modbus.Timeout,
	}
}

// PowerMeterLink is the RTU link of the PZEM meter; framing is fixed at 8N1.
func (c *Config) PowerMeterLink() modbus.Config {
	return modbus.Config{
		Transport: modbus.RTU,
		Address:   c.PowerMeter.Address,
		BaudRate:  c.PowerMeter.BaudRate,
		DataBits:  8,
		Parity:    "N",
		StopBits:  1,
		SlaveID:   byte(c.PowerMeter.SlaveID),
		Timeout:   c.Modbus.Timeout,
	}
}

func (c *Config) Plant() sensor.PlantConfig {
	return sensor.PlantConfig{
		AmbientC:       c.Simulator.AmbientC,
		MaxPowerW:      c.Simulator.MaxPowerW,
		HeatCapacityJC: c.Simulator.HeatCapacityJPerC,
		LossWPerC:      c.Simulator.LossWPerC,
		IRBiasC:        c.Simulator.IRBiasC,
	}
}
