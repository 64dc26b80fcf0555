package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	WebRTC  WebRTCConfig  `yaml:"webrtc"`
	Worker  WorkerConfig  `yaml:"worker"`
	Media   MediaConfig   `yaml:"media"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Chat    ChatConfig    `yaml:"chat"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxRooms        int           `yaml:"max_rooms"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebRTCConfig struct {
	ICEServers   []ICEServer `yaml:"ice_servers"`
	UDPPortRange PortRange   `yaml:"udp_port_range"`
	ListenIP     string      `yaml:"listen_ip"`
	AnnouncedIP  string      `yaml:"announced_ip"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type PortRange struct {
	Min uint16 `yaml:"min"`
	Max uint16 `yaml:"max"`
}

type WorkerConfig struct {
	MaxWorkers          int    `yaml:"max_workers"`
	MaxRoutersPerWorker int    `yaml:"max_routers_per_worker"` // 0 = unbounded
	Strategy            string `yaml:"strategy"`               // least-loaded | round-robin
}

type MediaConfig struct {
	// Transport bitrate bounds handed to every transport the engine creates.
	InitialAvailableOutgoingBitrate uint32 `yaml:"initial_available_outgoing_bitrate"`
	MinimumAvailableOutgoingBitrate uint32 `yaml:"minimum_available_outgoing_bitrate"`
	MaxIncomingBitrate              uint32 `yaml:"max_incoming_bitrate"`
	VideoStartBitrate               int    `yaml:"video_start_bitrate"` // kbps, x-google-start-bitrate

	RequestTimeout time.Duration `yaml:"request_timeout"`

	WSReadLimit     int64         `yaml:"ws_read_limit"`
	WSWriteTimeout  time.Duration `yaml:"ws_write_timeout"`
	WSPongTimeout   time.Duration `yaml:"ws_pong_timeout"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	MaxRoomIDLength int           `yaml:"max_room_id_length"`
	MaxUserIDLength int           `yaml:"max_user_id_length"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// RequireMediaToken makes a verified token mandatory on media join.
	RequireMediaToken bool `yaml:"require_media_token"`
}

type ChatConfig struct {
	MaxMessageLength int  `yaml:"max_message_length"`
	PubSubEnabled    bool `yaml:"pubsub_enabled"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SFU_HOST", "0.0.0.0"),
			Port:            getEnvInt("SFU_PORT", 8080),
			ReadTimeout:     time.Duration(getEnvInt("SFU_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("SFU_WRITE_TIMEOUT", 30)) * time.Second,
			MaxRooms:        getEnvInt("SFU_MAX_ROOMS", 1000),
			AllowedOrigins:  getEnvList("SFU_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: time.Duration(getEnvInt("SFU_SHUTDOWN_TIMEOUT", 10)) * time.Second,
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{URLs: getEnvList("SFU_STUN_URLS", []string{"stun:stun.l.google.com:19302"})},
			},
			UDPPortRange: PortRange{
				Min: uint16(getEnvInt("SFU_RTC_MIN_PORT", 40000)),
				Max: uint16(getEnvInt("SFU_RTC_MAX_PORT", 49999)),
			},
			ListenIP:    getEnv("SFU_LISTEN_IP", "0.0.0.0"),
			AnnouncedIP: getEnv("ANNOUNCED_IP", "127.0.0.1"),
		},
		Worker: WorkerConfig{
			MaxWorkers:          getEnvInt("SFU_MAX_WORKERS", 8),
			MaxRoutersPerWorker: getEnvInt("SFU_MAX_ROUTERS_PER_WORKER", 0),
			Strategy:            getEnv("SFU_WORKER_STRATEGY", "least-loaded"),
		},
		Media: MediaConfig{
			InitialAvailableOutgoingBitrate: uint32(getEnvInt("SFU_INITIAL_OUTGOING_BITRATE", 1000000)),
			MinimumAvailableOutgoingBitrate: uint32(getEnvInt("SFU_MIN_OUTGOING_BITRATE", 600000)),
			MaxIncomingBitrate:              uint32(getEnvInt("SFU_MAX_INCOMING_BITRATE", 1500000)),
			VideoStartBitrate:               getEnvInt("SFU_VIDEO_START_BITRATE", 1000),
			RequestTimeout:                  time.Duration(getEnvInt("SFU_REQUEST_TIMEOUT_MS", 5000)) * time.Millisecond,
			WSReadLimit:                     int64(getEnvInt("SFU_WS_READ_LIMIT", 524288)),
			WSWriteTimeout:                  time.Duration(getEnvInt("SFU_WS_WRITE_TIMEOUT", 10)) * time.Second,
			WSPongTimeout:                   time.Duration(getEnvInt("SFU_WS_PONG_TIMEOUT", 60)) * time.Second,
			WSPingInterval:                  time.Duration(getEnvInt("SFU_WS_PING_INTERVAL", 54)) * time.Second,
			RateLimitPerSec:                 float64(getEnvInt("SFU_RATE_LIMIT_PER_SEC", 20)),
			RateLimitBurst:                  getEnvInt("SFU_RATE_LIMIT_BURST", 40),
			MaxRoomIDLength:                 getEnvInt("SFU_MAX_ROOM_ID_LENGTH", 128),
			MaxUserIDLength:                 getEnvInt("SFU_MAX_USER_ID_LENGTH", 128),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
			RequireMediaToken: getEnvBool("SFU_REQUIRE_MEDIA_TOKEN", false),
		},
		Chat: ChatConfig{
			MaxMessageLength: getEnvInt("CHAT_MAX_MESSAGE_LENGTH", 4000),
			PubSubEnabled:    getEnvBool("CHAT_PUBSUB_ENABLED", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Worker.MaxWorkers < 1 {
		return fmt.Errorf("worker.max_workers must be at least 1, got %d", c.Worker.MaxWorkers)
	}
	if c.Worker.MaxRoutersPerWorker < 0 {
		return fmt.Errorf("worker.max_routers_per_worker must not be negative")
	}
	switch c.Worker.Strategy {
	case "least-loaded", "round-robin":
	default:
		return fmt.Errorf("unknown worker strategy %q", c.Worker.Strategy)
	}
	if c.Media.MinimumAvailableOutgoingBitrate > c.Media.InitialAvailableOutgoingBitrate {
		return fmt.Errorf("minimum outgoing bitrate %d exceeds initial %d",
			c.Media.MinimumAvailableOutgoingBitrate, c.Media.InitialAvailableOutgoingBitrate)
	}
	if c.Media.RequestTimeout <= 0 {
		return fmt.Errorf("media.request_timeout must be positive")
	}
	if c.WebRTC.UDPPortRange.Min > c.WebRTC.UDPPortRange.Max {
		return fmt.Errorf("invalid udp port range %d-%d", c.WebRTC.UDPPortRange.Min, c.WebRTC.UDPPortRange.Max)
	}
	if c.Auth.RequireMediaToken && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when media tokens are mandatory")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
