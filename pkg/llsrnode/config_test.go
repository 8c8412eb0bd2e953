package llsrnode

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestUnmarshalEnvAppliesDefaults(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil); err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.Addr != 0 {
		t.Errorf("Addr = %d, want 0", c.Addr)
	}
	if c.BaseTimeout != 2*time.Second {
		t.Errorf("BaseTimeout = %v, want 2s", c.BaseTimeout)
	}
	if c.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.MaxAttempts)
	}
	if !c.ExpBackoff {
		t.Error("ExpBackoff = false, want true")
	}
	if c.DebugLevel != zerolog.InfoLevel {
		t.Errorf("DebugLevel = %v, want info", c.DebugLevel)
	}
	if c.ExtClientNetwork != "unix" || c.ExtClientAddr != "/tmp/udscommunicate" {
		t.Errorf("ExtClientNetwork/Addr = %q/%q, want unix//tmp/udscommunicate", c.ExtClientNetwork, c.ExtClientAddr)
	}
}

func TestUnmarshalEnvOverridesFromEnvironment(t *testing.T) {
	var c Config
	env := []string{
		"LLSR_ADDR=7",
		"LLSR_MAX_ATTEMPTS=9",
		"LLSR_EXP_BACKOFF=false",
		"LLSR_BACKOFF_RANDOMNESS=0.25",
		"LLSR_HASH_KEY=sharedsecret",
		"LLSR_DEBUG_LEVEL=warn",
	}
	if err := c.UnmarshalEnv(env); err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.Addr != 7 {
		t.Errorf("Addr = %d, want 7", c.Addr)
	}
	if c.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, want 9", c.MaxAttempts)
	}
	if c.ExpBackoff {
		t.Error("ExpBackoff = true, want false")
	}
	if c.BackoffRandomness != 0.25 {
		t.Errorf("BackoffRandomness = %v, want 0.25", c.BackoffRandomness)
	}
	if c.HashKey != "sharedsecret" {
		t.Errorf("HashKey = %q, want sharedsecret", c.HashKey)
	}
	if c.DebugLevel != zerolog.WarnLevel {
		t.Errorf("DebugLevel = %v, want warn", c.DebugLevel)
	}
}

func TestUnmarshalEnvRejectsUnknownVariable(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv([]string{"LLSR_NOT_A_REAL_FIELD=1"}); err == nil {
		t.Fatal("expected an error for an unknown LLSR_ environment variable")
	}
}
