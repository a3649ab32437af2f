// Package webhook 实现入站 Webhook 的校验、规范化、去重与分发。
package webhook

import (
	"sort"
	"strings"
)

// Platform 标识一个入站 Webhook 来源。
type Platform string

// 支持的平台。
const (
	PlatformStripe    Platform = "stripe"
	PlatformTwilio    Platform = "twilio"
	PlatformTelegram  Platform = "telegram"
	PlatformDiscord   Platform = "discord"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformPinkSync  Platform = "pinksync"
	PlatformApril     Platform = "april"
	PlatformInsurance Platform = "insurance"
	PlatformMux       Platform = "mux"
	PlatformTest      Platform = "test"
)

var platformAliases = map[string]Platform{
	"april_api":       PlatformApril,
	"boost_insurance": PlatformInsurance,
	"sms":             PlatformTwilio,
}

// Platforms 返回全部支持的平台，按名称排序。
func Platforms() []Platform {
	out := []Platform{
		PlatformStripe,
		PlatformTwilio,
		PlatformTelegram,
		PlatformDiscord,
		PlatformWhatsApp,
		PlatformPinkSync,
		PlatformApril,
		PlatformInsurance,
		PlatformMux,
		PlatformTest,
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePlatform 解析平台名，大小写不敏感并支持历史别名。
func ParsePlatform(raw string) (Platform, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if p, ok := platformAliases[name]; ok {
		return p, true
	}
	for _, p := range Platforms() {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// channel 返回命令路由使用的渠道名。
func (p Platform) channel() string {
	if p == PlatformTwilio {
		return "sms"
	}
	return string(p)
}
