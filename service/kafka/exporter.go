package kafka

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

// Event 导出到 kafka 的领域事件
type Event struct {
	Event string          `json:"event"`
	Room  model.RoomID    `json:"room"`
	Node  int64           `json:"node"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data"`
}

// Exporter 把已提交的聊天事件异步写入一个 topic，key 为房间。
// 导出失败只记日志，不影响聊天主流程。
type Exporter struct {
	producer sarama.AsyncProducer
	topic    string
	node     int64
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewExporter(c Config) (*Exporter, error) {
	if !c.Enabled() {
		return nil, errs.ErrBadRequest.WrapMsg("kafka brokers and topic are required")
	}
	p, err := sarama.NewAsyncProducer(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.ErrUnavailable.WrapMsg("kafka producer: "+err.Error(), "brokers", c.Brokers)
	}
	return NewExporterWithProducer(p, c.Topic, c.NodeID), nil
}

// NewExporterWithProducer producer 必须开启 Return.Successes 与 Return.Errors
func NewExporterWithProducer(p sarama.AsyncProducer, topic string, node int64) *Exporter {
	e := &Exporter{
		producer: p,
		topic:    topic,
		node:     node,
		log:      logger.Named("kafka"),
	}
	e.wg.Add(2)
	go e.drainSuccesses()
	go e.drainErrors()
	return e
}

// Export 不阻塞：producer 输入队列满时直接丢弃并计数
func (e *Exporter) Export(event string, room model.RoomID, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.failed.Add(1)
		e.log.Warn("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	body, err := json.Marshal(Event{Event: event, Room: room, Node: e.node, At: model.Now(), Data: data})
	if err != nil {
		e.failed.Add(1)
		e.log.Warn("encode envelope", zap.String("event", event), zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(room),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
		},
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.producer.Input() <- msg:
	default:
		e.dropped.Add(1)
		e.log.Warn("export queue full, event dropped", zap.String("event", event), zap.String("room", string(room)))
	}
}

func (e *Exporter) drainSuccesses() {
	defer e.wg.Done()
	for msg := range e.producer.Successes() {
		e.sent.Add(1)
		e.log.Debug("event exported", zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	}
}

func (e *Exporter) drainErrors() {
	defer e.wg.Done()
	for perr := range e.producer.Errors() {
		e.failed.Add(1)
		e.log.Warn("event export failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
	}
}

// Stats 已确认 / 失败 / 丢弃
func (e *Exporter) Stats() (sent, failed, dropped int64) {
	return e.sent.Load(), e.failed.Load(), e.dropped.Load()
}

// Close 刷出缓冲后关闭，可重复调用
func (e *Exporter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.producer.AsyncClose()
	e.wg.Wait()
	return nil
}
