package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr      string
		GRPCAddr  string
		LogFormat string
		// PublicWSURL is the externally reachable base used in hub room URLs.
		PublicWSURL     string
		ShutdownTimeout time.Duration
		CORSOrigins     []string
	}
	Voice struct {
		// Provider is "hub" (built-in room hub) or "daily".
		Provider        string
		TokenSecret     string
		TokenTTL        time.Duration
		RoomPrefix      string
		RoomTTL         time.Duration
		TokenRatePerMin int
	}
	Daily struct {
		APIKey      string
		Domain      string
		RoomPrivacy string
		BaseURL     string
	}
	Store struct {
		// Backend is "memory" or "redis".
		Backend   string
		RedisAddr string
		RedisDB   int
		CacheSize int
	}
	Hub struct {
		LevelInterval time.Duration
		EventLogSize  int
		ReadLimit     int64
	}
	Call struct {
		LevelInterval  time.Duration
		LevelThreshold float64
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.log_format", "console")
	v.SetDefault("server.public_ws_url", "ws://localhost:8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", "*")

	v.SetDefault("voice.provider", "hub")
	v.SetDefault("voice.token_ttl", "10m")
	v.SetDefault("voice.room_prefix", "hub-voice-")
	v.SetDefault("voice.room_ttl", "12h")
	v.SetDefault("voice.token_rate_per_min", 30)

	v.SetDefault("daily.room_privacy", "private")
	v.SetDefault("daily.base_url", "https://api.daily.co/v1")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.cache_size", 4096)

	v.SetDefault("hub.level_interval", "200ms")
	v.SetDefault("hub.event_log_size", 200)
	v.SetDefault("hub.read_limit", 32768)

	v.SetDefault("call.level_interval", "200ms")
	v.SetDefault("call.level_threshold", 0.08)

	_ = v.BindEnv("server.addr", "HTTP_ADDR")
	_ = v.BindEnv("server.grpc_addr", "GRPC_ADDR")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.public_ws_url", "PUBLIC_WS_URL")
	_ = v.BindEnv("server.cors_origins", "CORS_ORIGINS")

	_ = v.BindEnv("voice.provider", "VOICE_PROVIDER")
	_ = v.BindEnv("voice.token_secret", "VOICE_TOKEN_SECRET")
	_ = v.BindEnv("voice.token_ttl", "VOICE_TOKEN_TTL")
	_ = v.BindEnv("voice.room_prefix", "VOICE_ROOM_PREFIX")

	_ = v.BindEnv("daily.api_key", "DAILY_API_KEY")
	_ = v.BindEnv("daily.domain", "DAILY_DOMAIN")
	_ = v.BindEnv("daily.room_privacy", "DAILY_ROOM_PRIVACY")

	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("store.redis_addr", "REDIS_ADDR")

	var c Config
	c.Server.Addr = v.GetString("server.addr")
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")
	c.Server.LogFormat = v.GetString("server.log_format")
	c.Server.PublicWSURL = strings.TrimRight(v.GetString("server.public_ws_url"), "/")
	c.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	c.Server.CORSOrigins = splitList(v.GetString("server.cors_origins"))

	c.Voice.Provider = strings.ToLower(v.GetString("voice.provider"))
	c.Voice.TokenSecret = v.GetString("voice.token_secret")
	c.Voice.TokenTTL = v.GetDuration("voice.token_ttl")
	c.Voice.RoomPrefix = v.GetString("voice.room_prefix")
	c.Voice.RoomTTL = v.GetDuration("voice.room_ttl")
	c.Voice.TokenRatePerMin = v.GetInt("voice.token_rate_per_min")

	c.Daily.APIKey = v.GetString("daily.api_key")
	c.Daily.Domain = v.GetString("daily.domain")
	c.Daily.RoomPrivacy = v.GetString("daily.room_privacy")
	c.Daily.BaseURL = v.GetString("daily.base_url")

	c.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	c.Store.RedisAddr = v.GetString("store.redis_addr")
	c.Store.RedisDB = v.GetInt("store.redis_db")
	c.Store.CacheSize = v.GetInt("store.cache_size")

	c.Hub.LevelInterval = v.GetDuration("hub.level_interval")
	c.Hub.EventLogSize = v.GetInt("hub.event_log_size")
	c.Hub.ReadLimit = v.GetInt64("hub.read_limit")

	c.Call.LevelInterval = v.GetDuration("call.level_interval")
	c.Call.LevelThreshold = v.GetFloat64("call.level_threshold")

	return c
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
