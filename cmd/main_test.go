package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"kiln_control/internal/config"
	"kiln_control/internal/firing"
	"kiln_control/internal/sensor"
)

func TestParseOffset(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"01:30", 90 * time.Minute, false},
		{"00:00:45", 45 * time.Second, false},
		{"90m", 90 * time.Minute, false},
		{"-5m", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := parseOffset(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseOffset(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("parseOffset(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if fileExists(path) {
		t.Fatalf("missing file reported as present")
	}
	if err := os.WriteFile(path, []byte("port: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !fileExists(path) || fileExists(dir) {
		t.Fatalf("fileExists mismatch")
	}
}

func TestOpenSimulatedHardware(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	hw, err := openHardware(cfg, nil, nil)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	defer hw.Close()

	if _, ok := hw.source.(*sensor.SimulatedKiln); !ok {
		t.Fatalf("source = %T, want simulated kiln", hw.source)
	}
	if hw.actuator == nil || hw.meter == nil {
		t.Fatalf("simulated actuator and meter expected: %+v", hw)
	}

	engine, err := newEngine(cfg, hw, nil, nil)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if _, ok := engine.(*firing.TimeProportional); !ok {
		t.Fatalf("engine = %T, want time-proportional", engine)
	}

	cfg.Firing.Mode = config.FiringZeroCross
	engine, err = newEngine(cfg, hw, nil, nil)
	if err != nil {
		t.Fatalf("newEngine zero-cross: %v", err)
	}
	if _, ok := engine.(*firing.ZeroCross); !ok {
		t.Fatalf("engine = %T, want zero-cross", engine)
	}
}

func TestMQTTClientID(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.MQTT.ClientID = "kiln-7"
	if got := mqttClientID(cfg); got != "kiln-7" {
		t.Fatalf("client id = %q", got)
	}
	cfg.MQTT.ClientID = ""
	if got := mqttClientID(cfg); len(got) <= len("kiln-") {
		t.Fatalf("generated client id = %q", got)
	}
}

func TestShutdownSignals(t *testing.T) {
	quit := shutdownSignals()
	defer signal.Stop(quit)

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case sig := <-quit:
		if sig != syscall.SIGTERM {
			t.Fatalf("got %v, want SIGTERM", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SIGTERM not captured")
	}
}
