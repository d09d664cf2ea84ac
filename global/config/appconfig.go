package config

import "time"

type AppConfig struct {
	NodeId int64       `yaml:"node_id" env:"NODE_ID"` // 节点ID，同时作为雪花ID的 node
	Http   HttpConfig  `yaml:"http" envPrefix:"HTTP_"`
	Grpc   GrpcConfig  `yaml:"grpc" envPrefix:"GRPC_"`
	Ws     WsConfig    `yaml:"ws" envPrefix:"WS_"`
	Auth   AuthConfig  `yaml:"auth" envPrefix:"AUTH_"`
	Store  StoreConfig `yaml:"store" envPrefix:"STORE_"`
	Redis  RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Nats   NatsConfig  `yaml:"nats" envPrefix:"NATS_"`
	Kafka  KafkaConfig `yaml:"kafka" envPrefix:"KAFKA_"`
	Chat   ChatConfig  `yaml:"chat" envPrefix:"CHAT_"`
	Log    LogConfig   `yaml:"log" envPrefix:"LOG_"`
}

type HttpConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"` // http 启动端口
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type GrpcConfig struct {
	Addr string `yaml:"addr" env:"ADDR"` // 空则不启动 grpc health
}

// WsConfig 长连接参数
type WsConfig struct {
	AuthTimeout     time.Duration `yaml:"auth_timeout" env:"AUTH_TIMEOUT"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongWait        time.Duration `yaml:"pong_wait" env:"PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" env:"WRITE_WAIT"`
	SendQueue       int           `yaml:"send_queue" env:"SEND_QUEUE"`
	MaxFrameBytes   int64         `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	FramesPerSecond float64       `yaml:"frames_per_second" env:"FRAMES_PER_SECOND"`
	FrameBurst      int           `yaml:"frame_burst" env:"FRAME_BURST"`
	MaxDecodeErrors int           `yaml:"max_decode_errors" env:"MAX_DECODE_ERRORS"`
	MaxConnsPerUser int           `yaml:"max_conns_per_user" env:"MAX_CONNS_PER_USER"` // 0 不限制
	HandlerTimeout  time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"` // 空则放行所有
}

type AuthConfig struct {
	JwtSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JwtAlg    string        `yaml:"jwt_alg" env:"JWT_ALG"`
	Leeway    time.Duration `yaml:"leeway" env:"LEEWAY"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver     string        `yaml:"driver" env:"DRIVER"`
	Dsn        string        `yaml:"dsn" env:"DSN"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxConns   int32         `yaml:"max_conns" env:"MAX_CONNS"`
	InitSchema bool          `yaml:"init_schema" env:"INIT_SCHEMA"`
}

// RedisConfig 为空地址时使用进程内去重
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	DedupTTL time.Duration `yaml:"dedup_ttl" env:"DEDUP_TTL"`
}

// NatsConfig 为空 servers 时只做单节点广播
type NatsConfig struct {
	Servers       []string `yaml:"servers" env:"SERVERS"`
	Name          string   `yaml:"name" env:"NAME"`
	SubjectPrefix string   `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// KafkaConfig 为空 brokers 时不导出事件
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" env:"BROKERS"`
	Topic       string   `yaml:"topic" env:"TOPIC"`
	ClientID    string   `yaml:"client_id" env:"CLIENT_ID"`
	Compression string   `yaml:"compression" env:"COMPRESSION"` // none|gzip|snappy|lz4|zstd
	Retries     int      `yaml:"retries" env:"RETRIES"`
	EnsureTopic bool     `yaml:"ensure_topic" env:"ENSURE_TOPIC"`
	Partitions  int32    `yaml:"partitions" env:"PARTITIONS"`
	Replication int16    `yaml:"replication" env:"REPLICATION"`
}

type ChatConfig struct {
	MaxContentRunes     int `yaml:"max_content_runes" env:"MAX_CONTENT_RUNES"`
	MaxMentions         int `yaml:"max_mentions" env:"MAX_MENTIONS"`
	MaxAttachments      int `yaml:"max_attachments" env:"MAX_ATTACHMENTS"`
	HistoryDefaultLimit int `yaml:"history_default_limit" env:"HISTORY_DEFAULT_LIMIT"`
	HistoryMaxLimit     int `yaml:"history_max_limit" env:"HISTORY_MAX_LIMIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // console|json
}
