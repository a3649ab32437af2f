package command

// Status 是命令结果状态。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Hints 是给渠道适配器的展示提示，可以忽略。
type Hints struct {
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	Animation string `json:"animation"`
	Vibrate   bool   `json:"vibration"`
}

// Result 是命令解析的结果，每次 Resolve 恰好产生一个。
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Kind    Kind           `json:"kind"`
	Data    map[string]any `json:"data,omitempty"`
	Hints   *Hints         `json:"visual_feedback,omitempty"`
}

func success(kind Kind, message string, data map[string]any, hints *Hints) Result {
	return Result{Status: StatusSuccess, Message: message, Kind: kind, Data: data, Hints: hints}
}

func hints(icon, color, animation string, vibrate bool) *Hints {
	return &Hints{Icon: icon, Color: color, Animation: animation, Vibrate: vibrate}
}
