package natsx

import "context"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// PublishTo 直接指定 subject
func (p *NatsxProducer) PublishTo(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.c.sendCore(subject, data, hdr)
}
