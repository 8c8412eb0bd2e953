package llsrnode

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the per-node parameters a flow-graph host supplies at
// construction (spec.md §6's "configuration parameters"). The env struct
// tag contains the environment variable name and, after "=", the default
// value applied when the variable is absent; a variable that is present
// but empty is parsed as the empty string, not replaced by the default.
type Config struct {
	// This node's 8-bit address. 0 is the sink.
	Addr uint8 `env:"LLSR_ADDR=0"`

	// The ARQ engine's base retransmit timeout.
	BaseTimeout time.Duration `env:"LLSR_BASE_TIMEOUT=2s"`

	// The ARQ retry budget before a packet is dropped (or, for a
	// forwarded MGMT, answered with a synthesized unreachable error).
	MaxAttempts int `env:"LLSR_MAX_ATTEMPTS=5"`

	// How often this node emits a beacon. 0 disables beacon emission.
	BroadcastInterval time.Duration `env:"LLSR_BROADCAST_INTERVAL=30s"`

	// Whether ARQ backoff is exponential (2^retries) or linear (retries+1).
	ExpBackoff bool `env:"LLSR_EXP_BACKOFF=true"`

	// The fractional jitter added to each ARQ timeout, in [0, 1).
	BackoffRandomness float64 `env:"LLSR_BACKOFF_RANDOMNESS=0.1"`

	// How long a neighbor may go unheard before its entry is evicted.
	NodeExpiryDelay time.Duration `env:"LLSR_NODE_EXPIRY_DELAY=90s"`

	// The capacity of each of the three ARQ priority queues.
	MaxQueueSize int `env:"LLSR_MAX_QUEUE_SIZE=16"`

	// The shared secret used to compute and verify the management
	// integrity hash (spec.md §4.7). Every node in a network must agree
	// on this value.
	HashKey string `env:"LLSR_HASH_KEY"`

	// Whether to additionally log at warn level and above to
	// errors_<addr>.txt, per spec.md §6's diagnostic-output flags.
	LogErrorsToFile bool `env:"LLSR_LOG_ERRORS_TO_FILE"`

	// Whether to additionally log delivered application payloads to
	// data_<addr>.txt.
	LogDataToFile bool `env:"LLSR_LOG_DATA_TO_FILE"`

	// The minimum log level written to stdout.
	DebugLevel zerolog.Level `env:"LLSR_DEBUG_LEVEL=info"`

	// Sink-only: the external-client listener network, "unix" or "tcp".
	ExtClientNetwork string `env:"LLSR_EXTCLIENT_NETWORK=unix"`

	// Sink-only: the external-client listener address — a socket path
	// for "unix", a host:port for "tcp".
	ExtClientAddr string `env:"LLSR_EXTCLIENT_ADDR=/tmp/udscommunicate"`

	// Sink-only: path to the sqlite3 audit database. Empty disables audit
	// persistence entirely.
	AuditDBPath string `env:"LLSR_AUDIT_DB_PATH"`

	// How often Run fires a control tick independent of the host's own
	// control-message port (spec.md §6). 0 falls back to 100ms.
	ControlTickInterval time.Duration `env:"LLSR_CONTROL_TICK_INTERVAL=100ms"`
}

// UnmarshalEnv parses c's fields from es, a list of "KEY=VALUE" strings such
// as os.Environ(), applying each field's env tag default when the
// corresponding variable is absent. It mirrors pkg/atlas/config.go's
// UnmarshalEnv, trimmed to the field types this Config actually uses.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "LLSR_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case uint8:
			if val == "" {
				cvf.SetUint(0)
			} else if v, err := strconv.ParseUint(val, 10, 8); err == nil {
				cvf.SetUint(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case float64:
			if val == "" {
				cvf.SetFloat(0)
			} else if v, err := strconv.ParseFloat(val, 64); err == nil {
				cvf.SetFloat(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if val == "" {
				cvf.Set(reflect.ValueOf(time.Duration(0)))
			} else if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("llsrnode: unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}

	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
