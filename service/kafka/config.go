package kafka

import (
	"github.com/Shopify/sarama"

	"PChatCore/global/config"
)

// Config 事件导出的 kafka 参数
type Config struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Compression       string // none/gzip/snappy/lz4/zstd
	Retries           int
	Partitions        int32
	ReplicationFactor int16
	Version           sarama.KafkaVersion
	NodeID            int64
}

func FromAppConfig(c config.AppConfig) Config {
	return Config{
		Brokers:           c.Kafka.Brokers,
		Topic:             c.Kafka.Topic,
		ClientID:          c.Kafka.ClientID,
		Compression:       c.Kafka.Compression,
		Retries:           c.Kafka.Retries,
		Partitions:        c.Kafka.Partitions,
		ReplicationFactor: c.Kafka.Replication,
		Version:           sarama.V2_1_0_0,
		NodeID:            c.NodeId,
	}
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 && c.Topic != "" }
