package webhook

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/http"

	xerrors "DeafFirst-Hub/internal/errors"
)

// Request 是一次入站 Webhook 的原始内容。
type Request struct {
	Platform string
	Payload  []byte
	Headers  http.Header
	// URL 为提供方回调时使用的完整地址，Twilio 签名依赖它。
	URL string
}

// 结果状态。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope 描述响应在传输层的编码方式。
type Envelope int

const (
	// EnvelopeJSON 输出 {status, message, code} JSON 对象。
	EnvelopeJSON Envelope = iota
	// EnvelopeTwiML 输出包裹文本回复的 TwiML。
	EnvelopeTwiML
	// EnvelopeInteraction 输出 Discord 交互响应。
	EnvelopeInteraction
)

// Interaction 是 Discord 交互响应。
type Interaction struct {
	Type int              `json:"type"`
	Data *InteractionData `json:"data,omitempty"`
}

// InteractionData 是交互响应的消息体。
type InteractionData struct {
	Content string `json:"content"`
	Flags   int    `json:"flags"`
}

// 交互类型与标志位。
const (
	InteractionPing        = 1
	InteractionCommand     = 2
	InteractionPong        = 1
	InteractionChannelMsg  = 4
	InteractionFlagPrivate = 64
)

// Result 是分发结果，始终结构完整。
type Result struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Code        int            `json:"code"`
	ErrorCode   xerrors.Code   `json:"error_code,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	EventType   string         `json:"event_type,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Duplicate   bool           `json:"duplicate,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Envelope    Envelope       `json:"envelope"`
	Reply       string         `json:"reply,omitempty"`
	Interaction *Interaction   `json:"interaction,omitempty"`
}

func success(message string, data map[string]any) Result {
	return Result{Status: StatusSuccess, Message: message, Code: http.StatusOK, Data: data}
}

// failure 将错误转换为结构化结果，未编码的错误视为内部错误。
func failure(err error) Result {
	xe, ok := xerrors.From(err)
	if !ok {
		xe = xerrors.Wrap(xerrors.CodeDispatchInternal, err, xerrors.CodeDispatchInternal.Attributes().Message)
	}
	return Result{
		Status:    StatusError,
		Message:   xe.Message(),
		Code:      xe.HTTPStatus(),
		ErrorCode: xe.Code(),
	}
}

// Failed 报告结果是否为错误。
func (r Result) Failed() bool { return r.Status == StatusError }

// Render 按平台约定编码响应，返回内容类型、HTTP 状态码与响应体。
func (r Result) Render() (string, int, []byte) {
	code := r.Code
	if code == 0 {
		code = http.StatusOK
	}
	switch {
	case r.Envelope == EnvelopeInteraction && r.Interaction != nil:
		body, _ := json.Marshal(r.Interaction)
		return "application/json", http.StatusOK, body
	case r.Envelope == EnvelopeTwiML:
		if r.Failed() {
			return "text/xml", code, nil
		}
		var buf bytes.Buffer
		buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>`)
		_ = xml.EscapeText(&buf, []byte(r.Reply))
		buf.WriteString(`</Message></Response>`)
		return "text/xml", code, buf.Bytes()
	}

	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["status"] = r.Status
	out["message"] = r.Message
	out["code"] = code
	if r.ErrorCode != "" {
		out["error_code"] = r.ErrorCode
	}
	if r.Reply != "" {
		out["response"] = r.Reply
	}
	if r.EventID != "" {
		out["event_id"] = r.EventID
	}
	if r.Duplicate {
		out["duplicate"] = true
	}
	body, _ := json.Marshal(out)
	return "application/json", code, body
}
