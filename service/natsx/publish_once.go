package natsx

import (
	"context"

	"PChatCore/tools/ids"
)

// PublishOnce 带 Nats-Msg-Id 的发布，接收端配合 NatsxIdemMiddleware 去重
// - msgID 为空则自动生成
func (p *NatsxProducer) PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = ids.GenerateString()
	}
	hdr["Nats-Msg-Id"] = msgID
	return p.PublishTo(ctx, subject, data, hdr)
}
