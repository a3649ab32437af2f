package video

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"DeafFirst-Hub/pkg/plugin"
)

const (
	defaultTwilioBaseURL = "https://video.twilio.com"
	defaultTokenTTL      = time.Hour
)

// TwilioConfig configures the Twilio Video connector.
type TwilioConfig struct {
	AccountSID      string        `mapstructure:"account_sid"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	BaseURL         string        `mapstructure:"base_url"`
	RoomType        string        `mapstructure:"room_type"`
	MaxParticipants int           `mapstructure:"max_participants"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Twilio creates and closes Twilio Video rooms and mints participant tokens.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
	now    func() time.Time
}

// NewTwilio returns a Twilio connector with defaults applied.
func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.RoomType == "" {
		cfg.RoomType = "group"
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 10
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Twilio{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

// NewTwilioConstructor adapts NewTwilio to the registry constructor contract.
func NewTwilioConstructor(raw map[string]any) (plugin.Connector, error) {
	var cfg TwilioConfig
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return NewTwilio(cfg), nil
}

// ValidateConfig requires the account SID and an API key pair.
func (t *Twilio) ValidateConfig() error {
	var missing []string
	if strings.TrimSpace(t.cfg.AccountSID) == "" {
		missing = append(missing, "account_sid")
	}
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(t.cfg.APISecret) == "" {
		missing = append(missing, "api_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("twilio: missing %s", strings.Join(missing, ", "))
	}
	return validateBaseURL(t.cfg.BaseURL)
}

type twilioRoom struct {
	SID        string `json:"sid"`
	UniqueName string `json:"unique_name"`
	Status     string `json:"status"`
	URL        string `json:"url"`
}

// CreateRoom creates a room named after cfg.Name.
func (t *Twilio) CreateRoom(ctx context.Context, cfg plugin.RoomConfig) (*plugin.Room, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("%w: room name is required", plugin.ErrInvalidRequest)
	}
	roomType := t.cfg.RoomType
	if v, ok := cfg.Options["type"].(string); ok && v != "" {
		roomType = v
	}
	maxParticipants := t.cfg.MaxParticipants
	if cfg.MaxParticipants > 0 {
		maxParticipants = cfg.MaxParticipants
	}
	form := url.Values{}
	form.Set("UniqueName", cfg.Name)
	form.Set("Type", roomType)
	form.Set("MaxParticipants", strconv.Itoa(maxParticipants))

	var room twilioRoom
	if err := t.postForm(ctx, "/v1/Rooms", form, &room); err != nil {
		return nil, err
	}
	return &plugin.Room{ID: room.SID, Name: room.UniqueName, Status: room.Status}, nil
}

// EndRoom marks the room completed.
func (t *Twilio) EndRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room id is required", plugin.ErrInvalidRequest)
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return t.postForm(ctx, "/v1/Rooms/"+url.PathEscape(roomID), form, nil)
}

type twilioGrants struct {
	Identity string            `json:"identity"`
	Video    map[string]string `json:"video"`
}

type twilioClaims struct {
	Grants twilioGrants `json:"grants"`
	jwt.RegisteredClaims
}

// AccessToken mints a Twilio access token with a video grant for roomID.
func (t *Twilio) AccessToken(_ context.Context, roomID, userID string) (string, error) {
	if roomID == "" || userID == "" {
		return "", fmt.Errorf("%w: room id and user id are required", plugin.ErrInvalidRequest)
	}
	now := t.now()
	claims := twilioClaims{
		Grants: twilioGrants{Identity: userID, Video: map[string]string{"room": roomID}},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.cfg.APIKey + "-" + uuid.NewString(),
			Issuer:    t.cfg.APIKey,
			Subject:   t.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = "twilio-fpa;v=1"
	signed, err := token.SignedString([]byte(t.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("twilio: sign access token: %w", err)
	}
	return signed, nil
}

func (t *Twilio) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(t.cfg.BaseURL, path), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.cfg.APIKey, t.cfg.APISecret)
	return doJSON(t.client, req, out)
}

var _ plugin.VideoChat = (*Twilio)(nil)
