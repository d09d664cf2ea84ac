package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"PChatCore/tools/errs"
	"PChatCore/tools/ids"
)

const (
	EnvPrefix   = "PCHAT_"
	DefaultPath = "config/chat.yaml"
)

// Global 进程级配置，main 里 Load 之后赋值
var Global = Default()

func Default() AppConfig {
	return AppConfig{
		NodeId: 1,
		Http: HttpConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Grpc: GrpcConfig{Addr: ":50051"},
		Ws: WsConfig{
			AuthTimeout:     10 * time.Second,
			PingInterval:    25 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
			SendQueue:       256,
			MaxFrameBytes:   64 << 10,
			FramesPerSecond: 40,
			FrameBurst:      80,
			MaxDecodeErrors: 3,
			HandlerTimeout:  10 * time.Second,
		},
		Auth: AuthConfig{JwtAlg: "HS256", Leeway: 5 * time.Second},
		Store: StoreConfig{
			Driver:     StoreDriverPostgres,
			Timeout:    3 * time.Second,
			MaxConns:   20,
			InitSchema: true,
		},
		Redis: RedisConfig{DedupTTL: 24 * time.Hour},
		Nats: NatsConfig{
			Name:          "pchat",
			SubjectPrefix: "chat.relay",
		},
		Kafka: KafkaConfig{
			Topic:       "chat.events",
			ClientID:    "pchat",
			Compression: "snappy",
			Retries:     5,
			Partitions:  8,
			Replication: 1,
		},
		Chat: ChatConfig{
			MaxContentRunes:     4000,
			MaxMentions:         50,
			MaxAttachments:      10,
			HistoryDefaultLimit: 50,
			HistoryMaxLimit:     100,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load 读取 yaml（文件不存在时只用默认值），再用 PCHAT_ 环境变量覆盖，最后校验。
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, errs.WrapMsg(err, "parse config file", "path", path)
			}
		case os.IsNotExist(err) && path == DefaultPath:
		default:
			return cfg, errs.WrapMsg(err, "read config file", "path", path)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, errs.WrapMsg(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch {
	case c.NodeId < 0 || c.NodeId > 1023:
		return errs.New("node_id must be within 0..1023", "node_id", c.NodeId)
	case c.Http.Addr == "":
		return errs.New("http.addr is required")
	case c.Auth.JwtSecret == "":
		return errs.New("auth.jwt_secret is required")
	case c.Store.Driver != StoreDriverPostgres && c.Store.Driver != StoreDriverMemory:
		return errs.New("store.driver must be postgres or memory", "driver", c.Store.Driver)
	case c.Store.Driver == StoreDriverPostgres && c.Store.Dsn == "":
		return errs.New("store.dsn is required for the postgres driver")
	case c.Store.Timeout <= 0:
		return errs.New("store.timeout must be positive")
	case c.Ws.AuthTimeout <= 0 || c.Ws.HandlerTimeout <= 0:
		return errs.New("ws.auth_timeout and ws.handler_timeout must be positive")
	case c.Ws.PongWait <= c.Ws.PingInterval:
		return errs.New("ws.pong_wait must exceed ws.ping_interval")
	case c.Ws.SendQueue <= 0:
		return errs.New("ws.send_queue must be positive")
	case c.Chat.HistoryMaxLimit <= 0 || c.Chat.HistoryMaxLimit > 100:
		return errs.New("chat.history_max_limit must be within 1..100")
	case c.Chat.HistoryDefaultLimit <= 0 || c.Chat.HistoryDefaultLimit > c.Chat.HistoryMaxLimit:
		return errs.New("chat.history_default_limit must be within 1..history_max_limit")
	case len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "":
		return errs.New("kafka.topic is required when brokers are set")
	}
	return nil
}

// ConfigIds 配置id生成
func ConfigIds(c AppConfig) {
	ids.SetNodeID(c.NodeId)
}

func (c AppConfig) GetJwtSecret() []byte {
	return []byte(c.Auth.JwtSecret)
}
