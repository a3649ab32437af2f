package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"DeafFirst-Hub/pkg/plugin"
)

const (
	defaultZoomBaseURL = "https://api.zoom.us/v2"
	defaultZoomTopic   = "Financial Consultation"
	defaultZoomMinutes = 60
)

var errNoSDKKey = errors.New("zoom: sdk_key and sdk_secret are required to mint join tokens")

// ZoomConfig configures the Zoom meetings connector.
type ZoomConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	SDKKey    string        `mapstructure:"sdk_key"`
	SDKSecret string        `mapstructure:"sdk_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Zoom schedules Zoom meetings through the REST API.
type Zoom struct {
	cfg    ZoomConfig
	client *http.Client
	now    func() time.Time
}

// NewZoom returns a Zoom connector with defaults applied.
func NewZoom(cfg ZoomConfig) *Zoom {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultZoomBaseURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Zoom{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

// NewZoomConstructor adapts NewZoom to the registry constructor contract.
func NewZoomConstructor(raw map[string]any) (plugin.Connector, error) {
	var cfg ZoomConfig
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return NewZoom(cfg), nil
}

// ValidateConfig requires an API bearer token. The SDK key pair is optional
// and only needed for AccessToken.
func (z *Zoom) ValidateConfig() error {
	if strings.TrimSpace(z.cfg.APIKey) == "" {
		return errors.New("zoom: missing api_key")
	}
	if (z.cfg.SDKKey == "") != (z.cfg.SDKSecret == "") {
		return errors.New("zoom: sdk_key and sdk_secret must be set together")
	}
	return validateBaseURL(z.cfg.BaseURL)
}

type zoomSettings struct {
	HostVideo        bool   `json:"host_video"`
	ParticipantVideo bool   `json:"participant_video"`
	JoinBeforeHost   bool   `json:"join_before_host"`
	MuteUponEntry    bool   `json:"mute_upon_entry"`
	Watermark        bool   `json:"watermark"`
	UsePMI           bool   `json:"use_pmi"`
	ApprovalType     int    `json:"approval_type"`
	Audio            string `json:"audio"`
	AutoRecording    string `json:"auto_recording"`
}

type zoomMeetingRequest struct {
	Topic    string       `json:"topic"`
	Type     int          `json:"type"`
	Duration int          `json:"duration"`
	Settings zoomSettings `json:"settings"`
}

type zoomMeeting struct {
	ID       json.Number `json:"id"`
	Topic    string      `json:"topic"`
	Status   string      `json:"status"`
	JoinURL  string      `json:"join_url"`
	StartURL string      `json:"start_url"`
	Password string      `json:"password"`
}

// CreateRoom schedules a meeting owned by the API user.
func (z *Zoom) CreateRoom(ctx context.Context, cfg plugin.RoomConfig) (*plugin.Room, error) {
	topic := cfg.Name
	if cfg.Topic != "" {
		topic = cfg.Topic
	}
	if topic == "" {
		topic = defaultZoomTopic
	}
	duration := cfg.DurationMinutes
	if duration <= 0 {
		duration = defaultZoomMinutes
	}
	body := zoomMeetingRequest{
		Topic:    topic,
		Type:     2,
		Duration: duration,
		Settings: zoomSettings{
			HostVideo:        true,
			ParticipantVideo: true,
			ApprovalType:     2,
			Audio:            "both",
			AutoRecording:    "none",
		},
	}
	var meeting zoomMeeting
	if err := z.sendJSON(ctx, http.MethodPost, "/users/me/meetings", body, &meeting); err != nil {
		return nil, err
	}
	status := meeting.Status
	if status == "" {
		status = "waiting"
	}
	return &plugin.Room{
		ID:       meeting.ID.String(),
		Name:     meeting.Topic,
		Status:   status,
		JoinURL:  meeting.JoinURL,
		StartURL: meeting.StartURL,
		Password: meeting.Password,
	}, nil
}

// EndRoom ends a running meeting.
func (z *Zoom) EndRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room id is required", plugin.ErrInvalidRequest)
	}
	path := "/meetings/" + url.PathEscape(roomID) + "/status"
	return z.sendJSON(ctx, http.MethodPut, path, map[string]string{"action": "end"}, nil)
}

type zoomSDKClaims struct {
	AppKey   string `json:"appKey"`
	SDKKey   string `json:"sdkKey"`
	Meeting  string `json:"mn"`
	Role     int    `json:"role"`
	TokenExp int64  `json:"tokenExp"`
	jwt.RegisteredClaims
}

// AccessToken mints a Meeting SDK signature for a participant.
func (z *Zoom) AccessToken(_ context.Context, roomID, userID string) (string, error) {
	if z.cfg.SDKKey == "" || z.cfg.SDKSecret == "" {
		return "", errNoSDKKey
	}
	if roomID == "" || userID == "" {
		return "", fmt.Errorf("%w: room id and user id are required", plugin.ErrInvalidRequest)
	}
	now := z.now()
	exp := now.Add(z.cfg.TokenTTL)
	claims := zoomSDKClaims{
		AppKey:   z.cfg.SDKKey,
		SDKKey:   z.cfg.SDKKey,
		Meeting:  roomID,
		Role:     0,
		TokenExp: exp.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(z.cfg.SDKSecret))
	if err != nil {
		return "", fmt.Errorf("zoom: sign sdk token: %w", err)
	}
	return signed, nil
}

func (z *Zoom) sendJSON(ctx context.Context, method, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("zoom: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, joinURL(z.cfg.BaseURL, path), bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("zoom: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+z.cfg.APIKey)
	return doJSON(z.client, req, out)
}

var _ plugin.VideoChat = (*Zoom)(nil)
