package wiremesh

import "time"

// EncryptionConfig controls whether the framed transport negotiates a
// symmetric cipher during the handshake (spec §4.3 phase A).
type EncryptionConfig struct {
	Enabled bool
}

// DefaultEncryptionConfig matches the source's "default_on" convention.
func DefaultEncryptionConfig() EncryptionConfig {
	return EncryptionConfig{Enabled: true}
}

// KeepAliveConfig controls the keep-alive watchdog/pinger cadence.
type KeepAliveConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultKeepAliveConfig mirrors spec §6: interval 15s, timeout 30s.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Enabled:  true,
		Interval: 15 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// Endpoint is a dialable host/port pair.
type Endpoint struct {
	Host string
	Port int
}

// ReconnectionConfig controls the client's automatic reconnection
// engine (spec §4.7).
type ReconnectionConfig struct {
	AutoReconnect      bool
	Endpoints          []Endpoint // fallback endpoints, round-robined after the primary
	MaxAttempts        int        // 0 means unlimited
	InitialRetryDelay  time.Duration
	MaxRetryDelay      time.Duration
	BackoffFactor      float64
	Jitter             float64 // fraction in [0,1)
	Reinitialize       bool    // always request a fresh session on reconnect
}

// DefaultReconnectionConfig is a conservative capped-exponential policy.
func DefaultReconnectionConfig() ReconnectionConfig {
	return ReconnectionConfig{
		AutoReconnect:     true,
		MaxAttempts:       0,
		InitialRetryDelay: 250 * time.Millisecond,
		MaxRetryDelay:     30 * time.Second,
		BackoffFactor:     2.0,
		Jitter:            0.2,
	}
}

// AuthType enumerates the authentication modes the handshake supports.
type AuthType int

const (
	AuthNone AuthType = iota
	AuthUserPassword
)

// AuthConfig configures the server-side Authenticator hook, and/or the
// client-side credentials presented during handshake phase B.
type AuthConfig struct {
	Type     AuthType
	Username string
	Password string
}

// Authenticator validates user/password pairs presented during the
// handshake. Implementations are user-supplied; the framework only
// calls this hook and reacts to its verdict.
type Authenticator func(username, password string) error

// SocketConfig bounds per-operation I/O on a Socket.
type SocketConfig struct {
	Timeout        time.Duration // per send/recv/handshake deadline
	ShutdownDrain  time.Duration // drain deadline on Shutdown
	MaxFrameBytes  uint32        // C1 frame size ceiling
}

// DefaultSocketConfig matches spec §4.1/§4.2 defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Timeout:       30 * time.Second,
		ShutdownDrain: 1 * time.Second,
		MaxFrameBytes: 16 << 20,
	}
}
