package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"DeafFirst-Hub/internal/command"
	"DeafFirst-Hub/internal/connectors"
	"DeafFirst-Hub/pkg/plugin"
)

// Handler 处理一个已校验、已规范化的事件。返回的错误会被映射为错误结果。
type Handler func(ctx context.Context, ev Event) (Result, error)

func (d *Dispatcher) defaultHandlers() map[Platform]Handler {
	return map[Platform]Handler{
		PlatformStripe:    d.handleStripe,
		PlatformTwilio:    d.handleTwilio,
		PlatformTelegram:  d.handleTelegram,
		PlatformDiscord:   d.handleDiscord,
		PlatformWhatsApp:  d.handleWhatsApp,
		PlatformPinkSync:  d.handlePinkSync,
		PlatformApril:     tableHandler("April API event processed: %s", aprilMessages),
		PlatformInsurance: tableHandler("Insurance event processed: %s", insuranceMessages),
		PlatformMux:       tableHandler("Mux event processed: %s", muxMessages),
		PlatformTest:      d.handleTest,
	}
}

var (
	stripeMessages = map[string]string{
		"customer.subscription.created": "Subscription created",
		"customer.subscription.updated": "Subscription updated",
		"invoice.payment_succeeded":     "Invoice payment processed",
	}
	aprilMessages = map[string]string{
		"tax_calculation_completed": "Tax calculation processed",
		"financial_profile_updated": "Financial profile updated",
		"document_processed":        "Document processing completed",
	}
	insuranceMessages = map[string]string{
		"policy_activated": "Insurance policy activated",
		"claim_submitted":  "Insurance claim processed",
		"premium_due":      "Premium notification processed",
	}
	muxMessages = map[string]string{
		"video.asset.ready":          "Video ready for playback",
		"video.upload.asset_created": "Video upload completed",
		"video.playback.id_created":  "Playback ID created",
	}
)

// tableHandler 按事件类型返回固定消息，未知类型使用 fallback 模板。
func tableHandler(fallback string, messages map[string]string) Handler {
	return func(_ context.Context, ev Event) (Result, error) {
		if msg, ok := messages[ev.Type]; ok {
			return success(msg, nil), nil
		}
		return success(fmt.Sprintf(fallback, ev.Type), nil), nil
	}
}

func (d *Dispatcher) handleStripe(_ context.Context, ev Event) (Result, error) {
	object := mapAt(ev.Body, "data", "object")
	switch ev.Type {
	case "payment_intent.succeeded":
		return success("Payment processed successfully", map[string]any{
			"amount":      numberAt(object, "amount") / 100,
			"currency":    stringAt(object, "currency"),
			"customer_id": stringAt(object, "customer"),
		}), nil
	case "payment_intent.payment_failed":
		reason := stringAt(object, "last_payment_error", "message")
		if reason == "" {
			reason = "Unknown error"
		}
		d.logger.Warn("支付失败", slog.String("customer_id", ev.UserID), slog.String("reason", reason))
		return success("Payment failure processed", map[string]any{
			"customer_id":    stringAt(object, "customer"),
			"failure_reason": reason,
		}), nil
	}
	if msg, ok := stripeMessages[ev.Type]; ok {
		return success(msg, nil), nil
	}
	return success("Processed Stripe event: "+ev.Type, nil), nil
}

func (d *Dispatcher) handleTwilio(ctx context.Context, ev Event) (Result, error) {
	res := d.chat(ctx, ev, "SMS command processed", "SMS received and processed")
	res.Envelope = EnvelopeTwiML
	return res, nil
}

func (d *Dispatcher) handleTelegram(ctx context.Context, ev Event) (Result, error) {
	if ev.Text == "" {
		return success("Telegram update ignored", nil), nil
	}
	res := d.chat(ctx, ev, "Telegram command processed", "Telegram message processed")
	d.reply(ctx, PlatformTelegram, ev.ChatID, res.Reply)
	return res, nil
}

func (d *Dispatcher) handleWhatsApp(ctx context.Context, ev Event) (Result, error) {
	if ev.Text == "" {
		return success("WhatsApp message processed", nil), nil
	}
	res := d.chat(ctx, ev, "WhatsApp command processed", "WhatsApp message processed")
	d.reply(ctx, PlatformWhatsApp, ev.ChatID, res.Reply)
	return res, nil
}

func (d *Dispatcher) handleDiscord(ctx context.Context, ev Event) (Result, error) {
	switch int(numberAt(ev.Body, "type")) {
	case InteractionPing:
		return Result{
			Status:      StatusSuccess,
			Message:     "Discord ping acknowledged",
			Code:        http.StatusOK,
			Envelope:    EnvelopeInteraction,
			Interaction: &Interaction{Type: InteractionPong},
		}, nil
	case InteractionCommand:
		cmdRes := d.resolve(ctx, ev)
		flags := 0
		if cmdRes.Status == command.StatusError {
			flags = InteractionFlagPrivate
		}
		return Result{
			Status:   StatusSuccess,
			Message:  "Discord command processed",
			Code:     http.StatusOK,
			Data:     map[string]any{"command_result": cmdRes},
			Envelope: EnvelopeInteraction,
			Reply:    cmdRes.Message,
			Interaction: &Interaction{
				Type: InteractionChannelMsg,
				Data: &InteractionData{Content: cmdRes.Message, Flags: flags},
			},
		}, nil
	}
	return success("Discord interaction processed", nil), nil
}

func (d *Dispatcher) handlePinkSync(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case "accessibility_preference_updated":
		return success("Accessibility preferences updated", nil), nil
	case "deaf_support_activated":
		return success("Deaf support mode activated", nil), nil
	case "asl_interpretation_requested":
		return d.scheduleInterpreter(ctx, ev)
	}
	return success("PinkSync event processed: "+ev.Type, nil), nil
}

// scheduleInterpreter 通过配置的 ASL 连接器预约翻译员。
func (d *Dispatcher) scheduleInterpreter(ctx context.Context, ev Event) (Result, error) {
	if d.executor == nil || d.aslConnector == "" {
		return success("ASL interpretation scheduled", nil), nil
	}
	user := mapAt(ev.Body, "user_data")
	appointment := plugin.Appointment{
		ID:              firstNonEmpty(stringAt(user, "appointment_id"), ev.DeliveryID),
		SessionID:       firstNonEmpty(stringAt(user, "session_id"), ev.DeliveryID),
		ClientID:        ev.UserID,
		Topic:           stringAt(user, "topic"),
		Language:        stringAt(user, "language"),
		DurationMinutes: int(numberAt(user, "duration")),
	}
	res, err := d.executor.Execute(ctx, plugin.TypeASLInterpreter, d.aslConnector, plugin.RequestInterpreter{Appointment: appointment})
	if err != nil {
		return Result{}, connectors.Classify(err)
	}
	return success("ASL interpretation scheduled", map[string]any{"interpreter": res.Output}), nil
}

func (d *Dispatcher) handleTest(_ context.Context, ev Event) (Result, error) {
	var payload any = ev.Body
	if ev.Form != nil {
		flat := make(map[string]string, len(ev.Form))
		for k := range ev.Form {
			flat[k] = ev.Form.Get(k)
		}
		payload = flat
	}
	headers := make(map[string]string, len(ev.Headers))
	for k := range ev.Headers {
		headers[k] = ev.Headers.Get(k)
	}
	return success("Test webhook received", map[string]any{"payload": payload, "headers": headers}), nil
}

// chat 将聊天文本交给命令路由并生成回复。
func (d *Dispatcher) chat(ctx context.Context, ev Event, commandMsg, textMsg string) Result {
	cmdRes := d.resolve(ctx, ev)
	msg := textMsg
	if strings.HasPrefix(ev.Text, "/") {
		msg = commandMsg
	}
	res := success(msg, map[string]any{"command_result": cmdRes})
	res.Reply = cmdRes.Message
	return res
}

func (d *Dispatcher) resolve(ctx context.Context, ev Event) command.Result {
	cmd := command.Parse(ev.Text, ev.UserID, ev.Platform.channel(), nil)
	return d.router.Resolve(ctx, cmd)
}

// reply 在有限时间内发送渠道回复，失败只记录日志。
func (d *Dispatcher) reply(ctx context.Context, platform Platform, to, text string) {
	if to == "" || text == "" {
		return
	}
	sender, ok := d.senders[platform]
	if !ok {
		sender = LogSender{Platform: platform}
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := sender.Send(sendCtx, to, text); err != nil {
		d.logger.Warn("发送渠道回复失败",
			slog.String("platform", string(platform)),
			slog.String("to", to),
			slog.Any("error", err),
		)
	}
}
