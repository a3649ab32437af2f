package webhook

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	xerrors "DeafFirst-Hub/internal/errors"
)

const (
	verificationMessage       = "Webhook verification failed"
	defaultSignatureTolerance = 5 * time.Minute
)

// Verifier 校验入站请求的真实性。
type Verifier interface {
	Verify(req Request) error
}

// VerifierFunc 将函数适配为 Verifier。
type VerifierFunc func(req Request) error

// Verify 实现 Verifier。
func (f VerifierFunc) Verify(req Request) error { return f(req) }

func rejected(reason string) error {
	return xerrors.New(xerrors.CodeVerificationFailed, verificationMessage, xerrors.WithMetadata("reason", reason))
}

// failClosed 在缺少校验材料时拒绝全部请求。
func failClosed(platform Platform) Verifier {
	return VerifierFunc(func(Request) error {
		return rejected(fmt.Sprintf("平台 %s 未配置校验密钥", platform))
	})
}

func allowAll() Verifier {
	return VerifierFunc(func(Request) error { return nil })
}

// TimestampedHMAC 校验 "t=<unix>,v1=<hex>" 形式的签名头（Stripe、Mux）。
type TimestampedHMAC struct {
	Header    string
	Secret    []byte
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify 实现 Verifier。
func (v TimestampedHMAC) Verify(req Request) error {
	raw := req.Headers.Get(v.Header)
	if raw == "" {
		return rejected("缺少签名头 " + v.Header)
	}
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return rejected("签名头格式错误")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return rejected("签名时间戳无效")
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if age := now().Sub(time.Unix(ts, 0)); age > tolerance || age < -tolerance {
		return rejected("签名时间戳超出容忍窗口")
	}

	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(req.Payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return rejected("签名不匹配")
}

// TwilioSignature 校验 X-Twilio-Signature。
type TwilioSignature struct {
	AuthToken []byte
}

// Verify 实现 Verifier。
func (v TwilioSignature) Verify(req Request) error {
	sig := req.Headers.Get("X-Twilio-Signature")
	if sig == "" {
		return rejected("缺少签名头 X-Twilio-Signature")
	}
	if req.URL == "" {
		return rejected("缺少回调地址")
	}
	form, err := url.ParseQuery(string(req.Payload))
	if err != nil {
		return rejected("表单无法解析")
	}
	expected := TwilioSign(v.AuthToken, req.URL, form)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return rejected("签名不匹配")
	}
	return nil
}

// TwilioSign 计算 Twilio 请求签名：URL 后按键排序拼接全部表单键值，HMAC-SHA1 后 base64 编码。
func TwilioSign(token []byte, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		values := append([]string(nil), form[k]...)
		sort.Strings(values)
		for _, val := range values {
			b.WriteString(k)
			b.WriteString(val)
		}
	}
	mac := hmac.New(sha1.New, token)
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SecretToken 以常量时间比较请求头中的共享密钥（Telegram）。
type SecretToken struct {
	Header string
	Secret []byte
}

// Verify 实现 Verifier。
func (v SecretToken) Verify(req Request) error {
	got := req.Headers.Get(v.Header)
	if got == "" {
		return rejected("缺少密钥头 " + v.Header)
	}
	if subtle.ConstantTimeCompare([]byte(got), v.Secret) != 1 {
		return rejected("密钥不匹配")
	}
	return nil
}

// Ed25519Signature 校验 Discord 交互签名。
type Ed25519Signature struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Signature 从十六进制公钥构建校验器。
func NewEd25519Signature(publicKeyHex string) (Ed25519Signature, error) {
	key, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return Ed25519Signature{}, fmt.Errorf("解析 Discord 公钥失败: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return Ed25519Signature{}, fmt.Errorf("Discord 公钥长度应为 %d 字节", ed25519.PublicKeySize)
	}
	return Ed25519Signature{PublicKey: key}, nil
}

// Verify 实现 Verifier。
func (v Ed25519Signature) Verify(req Request) error {
	sigHex := req.Headers.Get("X-Signature-Ed25519")
	timestamp := req.Headers.Get("X-Signature-Timestamp")
	if sigHex == "" || timestamp == "" {
		return rejected("缺少 Ed25519 签名头")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return rejected("签名格式错误")
	}
	msg := make([]byte, 0, len(timestamp)+len(req.Payload))
	msg = append(msg, timestamp...)
	msg = append(msg, req.Payload...)
	if !ed25519.Verify(v.PublicKey, msg, sig) {
		return rejected("签名不匹配")
	}
	return nil
}

// BodyHMAC 校验 "sha256=<hex>" 形式的请求体签名（WhatsApp、PinkSync、April、Insurance）。
type BodyHMAC struct {
	Header string
	Secret []byte
}

// Verify 实现 Verifier。
func (v BodyHMAC) Verify(req Request) error {
	raw := req.Headers.Get(v.Header)
	if raw == "" {
		return rejected("缺少签名头 " + v.Header)
	}
	got := strings.TrimPrefix(raw, "sha256=")
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(req.Payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(got))) {
		return rejected("签名不匹配")
	}
	return nil
}

// SignBody 计算 BodyHMAC 期望的签名头值。
func SignBody(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignTimestamped 计算 TimestampedHMAC 期望的签名头值。
func SignTimestamped(secret, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Secrets 保存各平台的校验材料，空值表示未配置。
type Secrets struct {
	Stripe              string
	Twilio              string
	TelegramSecretToken string
	DiscordPublicKey    string
	WhatsApp            string
	WhatsAppVerifyToken string
	PinkSync            string
	April               string
	Insurance           string
	Mux                 string
}

// buildVerifiers 为每个平台构建校验器，未配置材料的平台一律拒绝。
func buildVerifiers(secrets Secrets, allowUnverified map[Platform]bool, tolerance time.Duration, now func() time.Time) (map[Platform]Verifier, error) {
	hmacOrClosed := func(p Platform, secret string, build func([]byte) Verifier) Verifier {
		if secret == "" {
			return failClosed(p)
		}
		return build([]byte(secret))
	}

	verifiers := map[Platform]Verifier{
		PlatformStripe: hmacOrClosed(PlatformStripe, secrets.Stripe, func(s []byte) Verifier {
			return TimestampedHMAC{Header: "Stripe-Signature", Secret: s, Tolerance: tolerance, Now: now}
		}),
		PlatformMux: hmacOrClosed(PlatformMux, secrets.Mux, func(s []byte) Verifier {
			return TimestampedHMAC{Header: "Mux-Signature", Secret: s, Tolerance: tolerance, Now: now}
		}),
		PlatformTwilio: hmacOrClosed(PlatformTwilio, secrets.Twilio, func(s []byte) Verifier {
			return TwilioSignature{AuthToken: s}
		}),
		PlatformTelegram: hmacOrClosed(PlatformTelegram, secrets.TelegramSecretToken, func(s []byte) Verifier {
			return SecretToken{Header: "X-Telegram-Bot-Api-Secret-Token", Secret: s}
		}),
		PlatformWhatsApp: hmacOrClosed(PlatformWhatsApp, secrets.WhatsApp, func(s []byte) Verifier {
			return BodyHMAC{Header: "X-Hub-Signature-256", Secret: s}
		}),
		PlatformPinkSync: hmacOrClosed(PlatformPinkSync, secrets.PinkSync, func(s []byte) Verifier {
			return BodyHMAC{Header: "X-Webhook-Signature", Secret: s}
		}),
		PlatformApril: hmacOrClosed(PlatformApril, secrets.April, func(s []byte) Verifier {
			return BodyHMAC{Header: "X-Webhook-Signature", Secret: s}
		}),
		PlatformInsurance: hmacOrClosed(PlatformInsurance, secrets.Insurance, func(s []byte) Verifier {
			return BodyHMAC{Header: "X-Webhook-Signature", Secret: s}
		}),
		PlatformTest: failClosed(PlatformTest),
	}

	if secrets.DiscordPublicKey == "" {
		verifiers[PlatformDiscord] = failClosed(PlatformDiscord)
	} else {
		v, err := NewEd25519Signature(secrets.DiscordPublicKey)
		if err != nil {
			return nil, err
		}
		verifiers[PlatformDiscord] = v
	}

	for p, allowed := range allowUnverified {
		if allowed {
			verifiers[p] = allowAll()
		}
	}
	return verifiers, nil
}
