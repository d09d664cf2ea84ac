package chat

import (
	"encoding/json"

	"PChatCore/module/chat/model"
	"PChatCore/tools/decode"
	"PChatCore/tools/errs"
	"PChatCore/tools/specialerror"
)

// Frame 长连接上下行统一帧：{"event": "...", "requestId": "...", "data": {...}}
type Frame struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// 错误作用域：非房间事件的错误
const (
	ScopeAuth       = "auth"
	ScopeFrame      = "frame"
	ScopeConnection = "connection"
)

// ErrorPayload error 事件负载；Scope 为出错的入站事件名或上面几个作用域
type ErrorPayload struct {
	Scope     string       `json:"scope"`
	RoomID    model.RoomID `json:"roomId,omitempty"`
	Code      int          `json:"code"`
	Kind      string       `json:"kind"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
}

// AckPayload 房间事件成功回执
type AckPayload struct {
	Event  string       `json:"event"`
	RoomID model.RoomID `json:"roomId,omitempty"`
	Result any          `json:"result,omitempty"`
}

type ConnectedPayload struct {
	ConnID     model.ConnID `json:"connId"`
	User       model.User   `json:"user"`
	ServerTime int64        `json:"serverTime"`
}

// ===== 入站负载 =====

type connectReq struct {
	Token string `json:"token"`
}

type roomReq struct {
	RoomID string `json:"roomId"`
}

type sendReq struct {
	RoomID           string          `json:"roomId"`
	Content          string          `json:"content"`
	ReplyToID        model.MessageID `json:"replyToId"`
	MentionedUserIDs []model.UserID  `json:"mentionedUserIds"`
	AttachmentRefs   []string        `json:"attachmentRefs"`
	ClientMessageID  string          `json:"clientMessageId"`
}

func (r *sendReq) draft() model.Draft {
	return model.Draft{
		Content:          r.Content,
		ReplyToID:        r.ReplyToID,
		MentionedUserIDs: r.MentionedUserIDs,
		AttachmentRefs:   r.AttachmentRefs,
		ClientMessageID:  r.ClientMessageID,
	}
}

type messageReq struct {
	RoomID    string          `json:"roomId"`
	MessageID model.MessageID `json:"messageId"`
}

type reactionReq struct {
	RoomID    string          `json:"roomId"`
	MessageID model.MessageID `json:"messageId"`
	Emoji     string          `json:"emoji"`
}

type listReq struct {
	RoomID   string          `json:"roomId"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
	BeforeID model.MessageID `json:"beforeId"`
	AfterID  model.MessageID `json:"afterId"`
}

func (r *listReq) query() model.HistoryQuery {
	return model.HistoryQuery{Page: r.Page, Limit: r.Limit, BeforeID: r.BeforeID, AfterID: r.AfterID}
}

// ===== 编解码 =====

func encodeFrame(event, requestID string, payload any) ([]byte, error) {
	f := Frame{Event: event, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.WrapMsg(err, "encode payload", "event", event)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

func parseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrBadRequest.WrapMsg("malformed frame")
	}
	if f.Event == "" {
		return nil, errs.ErrBadRequest.WrapMsg("frame without event")
	}
	return &f, nil
}

// payloadOf 解析帧 data
func payloadOf[T any](f *Frame) (*T, error) {
	return decode.DecodeRaw[T](f.Data)
}

// newErrorPayload 未分类错误只给出 kind，不把内部细节发给客户端
func newErrorPayload(scope string, room model.RoomID, err error) ErrorPayload {
	code := specialerror.ErrCode(err)
	msg := errs.CodeName(code)
	if ce, ok := errs.As(err); ok && code != errs.ServerInternalError {
		msg = ce.Message()
	}
	return ErrorPayload{
		Scope:     scope,
		RoomID:    room,
		Code:      code,
		Kind:      errs.CodeName(code),
		Message:   msg,
		Retryable: errs.Retryable(code),
	}
}
