package app

import (
	"testing"
	"time"

	"quotebot/internal/config"
)

func TestMapPprofConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapPprofConfig(&Config{})
	if err != nil {
		t.Fatalf("mapPprofConfig error: %v", err)
	}
	if got.Enabled {
		t.Fatal("pprof must default to disabled")
	}
	if got.Addr != "127.0.0.1:6060" || got.Prefix != "/debug/pprof/" {
		t.Fatalf("defaults = %+v", got)
	}
	if got.ReadTimeout != 5*time.Second || got.WriteTimeout != 0 || got.IdleTimeout != 120*time.Second {
		t.Fatalf("timeouts = %v/%v/%v", got.ReadTimeout, got.WriteTimeout, got.IdleTimeout)
	}
}

func TestMapPprofConfigRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	cfg := &Config{Pprof: config.PprofConfig{Enabled: true, Addr: "0.0.0.0:6060"}}
	if _, err := mapPprofConfig(cfg); err == nil {
		t.Fatal("non-loopback bind without token must be rejected")
	}

	cfg.Pprof.Token = "secret"
	if _, err := mapPprofConfig(cfg); err != nil {
		t.Fatalf("token should permit the bind: %v", err)
	}

	cfg.Pprof.Token = ""
	cfg.Pprof.AllowInsecure = true
	if _, err := mapPprofConfig(cfg); err != nil {
		t.Fatalf("allow_insecure should permit the bind: %v", err)
	}
}

func TestMapPprofConfigRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pc   config.PprofConfig
	}{
		{name: "bad addr", pc: config.PprofConfig{Enabled: true, Addr: "no-port"}},
		{name: "negative mutex fraction", pc: config.PprofConfig{MutexProfileFraction: -1}},
		{name: "negative block rate", pc: config.PprofConfig{BlockProfileRate: -1}},
		{name: "negative mem rate", pc: config.PprofConfig{MemProfileRate: -1}},
		{name: "bad duration", pc: config.PprofConfig{ReadTimeout: "soon"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := mapPprofConfig(&Config{Pprof: tt.pc}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{"10.0.0.1:6060", false},
		{":6060", false},
		{"no-port", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
