package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xerrors "DeafFirst-Hub/internal/errors"
)

// Event 是规范化后的入站事件。
type Event struct {
	Platform   Platform
	Type       string
	DeliveryID string
	UserID     string
	ChatID     string
	Text       string
	Body       map[string]any
	Form       url.Values
	Headers    http.Header
}

// normalize 将平台载荷转换为 Event，无法解析时返回 MALFORMED_PAYLOAD。
func normalize(platform Platform, req Request) (Event, error) {
	ev := Event{Platform: platform, Headers: req.Headers}

	if platform == PlatformTwilio || (platform == PlatformTest && !looksLikeJSON(req.Payload)) {
		form, err := url.ParseQuery(string(req.Payload))
		if err != nil {
			return ev, xerrors.Wrap(xerrors.CodeMalformedPayload, err, "表单载荷无法解析")
		}
		ev.Form = form
		if platform == PlatformTwilio {
			ev.Type = "sms"
			ev.Text = strings.TrimSpace(form.Get("Body"))
			ev.UserID = form.Get("From")
			ev.ChatID = form.Get("From")
			ev.DeliveryID = firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid"))
		} else {
			ev.Type = "test"
		}
		return ev, nil
	}

	body, err := decodeObject(req.Payload)
	if err != nil {
		return ev, err
	}
	ev.Body = body

	switch platform {
	case PlatformStripe:
		ev.Type = stringAt(body, "type")
		ev.DeliveryID = stringAt(body, "id")
		ev.UserID = stringAt(body, "data", "object", "customer")
	case PlatformTelegram:
		msg := mapAt(body, "message")
		ev.Type = "message"
		ev.DeliveryID = stringAt(body, "update_id")
		ev.Text = strings.TrimSpace(stringAt(msg, "text"))
		ev.ChatID = stringAt(msg, "chat", "id")
		ev.UserID = stringAt(msg, "from", "id")
	case PlatformDiscord:
		ev.Type = "interaction_" + stringAt(body, "type")
		ev.DeliveryID = stringAt(body, "id")
		ev.UserID = firstNonEmpty(stringAt(body, "member", "user", "id"), stringAt(body, "user", "id"))
		ev.ChatID = stringAt(body, "channel_id")
		ev.Text = discordCommandText(body)
	case PlatformWhatsApp:
		ev.Type = "message"
		if msg := firstWhatsAppMessage(body); msg != nil {
			ev.DeliveryID = stringAt(msg, "id")
			ev.UserID = stringAt(msg, "from")
			ev.ChatID = ev.UserID
			ev.Text = strings.TrimSpace(stringAt(msg, "text", "body"))
		} else {
			ev.Type = "status"
		}
	case PlatformPinkSync:
		ev.Type = stringAt(body, "event_type")
		ev.DeliveryID = firstNonEmpty(stringAt(body, "event_id"), stringAt(body, "id"))
		ev.UserID = stringAt(body, "user_data", "user_id")
	case PlatformApril:
		ev.Type = stringAt(body, "event_type")
		ev.DeliveryID = firstNonEmpty(stringAt(body, "event_id"), stringAt(body, "id"))
		ev.UserID = stringAt(body, "data", "user_id")
	case PlatformInsurance:
		ev.Type = stringAt(body, "event")
		ev.DeliveryID = firstNonEmpty(stringAt(body, "event_id"), stringAt(body, "id"))
		ev.UserID = stringAt(body, "policy", "holder_id")
	case PlatformMux:
		ev.Type = stringAt(body, "type")
		ev.DeliveryID = stringAt(body, "id")
	case PlatformTest:
		ev.Type = "test"
	}
	if ev.Type == "" {
		ev.Type = "unknown"
	}
	return ev, nil
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeObject(payload []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, xerrors.New(xerrors.CodeMalformedPayload, "载荷为空")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedPayload, err, "JSON 载荷无法解析")
	}
	if body == nil {
		return nil, xerrors.New(xerrors.CodeMalformedPayload, "JSON 载荷必须是对象")
	}
	return body, nil
}

// discordCommandText 将斜杠命令还原为 "/name value ..." 形式。
func discordCommandText(body map[string]any) string {
	name := stringAt(body, "data", "name")
	if name == "" {
		return ""
	}
	parts := []string{"/" + name}
	if options, ok := valueAt(body, "data", "options").([]any); ok {
		for _, opt := range options {
			if m, ok := opt.(map[string]any); ok {
				if v := stringAt(m, "value"); v != "" {
					parts = append(parts, v)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// firstWhatsAppMessage 返回 entry[].changes[].value.messages[] 中的第一条消息。
func firstWhatsAppMessage(body map[string]any) map[string]any {
	entries, _ := body["entry"].([]any)
	for _, e := range entries {
		changes, _ := valueAt(e, "changes").([]any)
		for _, c := range changes {
			messages, _ := valueAt(c, "value", "messages").([]any)
			for _, m := range messages {
				if msg, ok := m.(map[string]any); ok {
					return msg
				}
			}
		}
	}
	return nil
}

func valueAt(v any, path ...string) any {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func mapAt(v any, path ...string) map[string]any {
	m, _ := valueAt(v, path...).(map[string]any)
	return m
}

func stringAt(v any, path ...string) string {
	return stringify(valueAt(v, path...))
}

func numberAt(v any, path ...string) float64 {
	switch n := valueAt(v, path...).(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool, float64, int, int64:
		return fmt.Sprint(val)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
