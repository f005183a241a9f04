package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	// Relay is the backend the agent talks to: REST store, signaling
	// endpoint and the websocket event channel.
	Relay RelayConfig

	// Serve configures the bundled relay server (`careline-rtc relay`).
	Serve ServeConfig

	Call    CallConfig
	Channel ChannelConfig
	Coturn  CoturnConfig

	// CallLogPath is the sqlite file holding the durable call history.
	CallLogPath string `env:"CALL_LOG_PATH" envDefault:"careline-calls.db"`

	StunURLs []string `env:"STUN_URLS" envDefault:"stun:stun.l.google.com:19302"`

	TurnUDPServer webrtc.ICEServer
	TurnTCPServer webrtc.ICEServer
}

type RelayConfig struct {
	BaseURL  string `env:"RELAY_BASE_URL" envDefault:"http://localhost:3000"`
	WSURL    string `env:"RELAY_WS_URL" envDefault:"ws://localhost:3000/api/v1/ws"`
	Username string `env:"RELAY_USERNAME"`
	Password string `env:"RELAY_PASSWORD"`
}

type ServeConfig struct {
	Port      string `env:"PORT" envDefault:"3000"`
	Domain    string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	JWTSecret string `env:"JWT_SECRET" envDefault:"careline-dev-secret"`
}

type CallConfig struct {
	// MissedCallWindow is how long an outbound call may stay unanswered
	// before the caller declares it missed.
	MissedCallWindow time.Duration `env:"MISSED_CALL_WINDOW" envDefault:"30s"`

	// ConnectWait bounds the forced-reconnect wait when a call is
	// started while the event channel is down.
	ConnectWait time.Duration `env:"CALL_CONNECT_WAIT" envDefault:"5s"`
}

type ChannelConfig struct {
	ReconnectBaseDelay time.Duration `env:"CHANNEL_RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay  time.Duration `env:"CHANNEL_RECONNECT_MAX_DELAY" envDefault:"30s"`

	// ReconnectMaxAttempts limits reconnect attempts; 0 means retry
	// forever.
	ReconnectMaxAttempts int `env:"CHANNEL_RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret is used to derive short-term credentials handed out to
	// clients.
	Secret string `env:"COTURN_SECRET"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Coturn.Host != "" {
		c.TurnUDPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.Coturn.Host)},
			Username:   c.Coturn.Username,
			Credential: c.Coturn.Password,
		}

		c.TurnTCPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.Coturn.Host)},
			Username:   c.Coturn.Username,
			Credential: c.Coturn.Password,
		}
	}

	return &c, nil
}

// ICEServers returns the statically configured servers: every STUN URL
// plus the TURN fallbacks when coturn is configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: c.StunURLs},
	}

	if c.Coturn.Host != "" {
		servers = append(servers, c.TurnUDPServer, c.TurnTCPServer)
	}

	return servers
}
