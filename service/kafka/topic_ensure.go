package kafka

import (
	"errors"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/tools/errs"
)

// EnsureTopic 不存在就创建；已存在且分区少于期望值时扩分区（kafka 只能加分区）。
func EnsureTopic(c Config) error {
	admin, err := sarama.NewClusterAdmin(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("kafka admin: "+err.Error(), "brokers", c.Brokers)
	}
	defer admin.Close()
	return EnsureTopicWith(admin, c)
}

func EnsureTopicWith(admin sarama.ClusterAdmin, c Config) error {
	log := logger.Named("kafka")
	parts := c.Partitions
	if parts <= 0 {
		parts = 1
	}
	rf := c.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", c.Topic)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     parts,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(c.Topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("topic exists (race)", zap.String("topic", c.Topic))
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", c.Topic)
		}
		log.Info("topic created", zap.String("topic", c.Topic), zap.Int32("partitions", parts), zap.Int16("rf", rf))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if parts > cur {
		if err := admin.CreatePartitions(c.Topic, parts, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", c.Topic, "from", cur, "to", parts)
		}
		log.Info("topic partitions expanded", zap.String("topic", c.Topic), zap.Int32("from", cur), zap.Int32("to", parts))
		return nil
	}
	log.Info("topic exists", zap.String("topic", c.Topic), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
