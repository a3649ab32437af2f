package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	xerrors "DeafFirst-Hub/internal/errors"
)

// errBodyTooLarge 表示请求体超过 max_body_bytes。
var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 将错误写为统一的 JSON 错误体，未编码的错误按 500 处理。
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"status":  "error",
			"message": "Request body too large",
			"code":    http.StatusRequestEntityTooLarge,
		})
		return
	}
	xe, ok := xerrors.From(err)
	if !ok {
		xe = xerrors.Wrap(xerrors.CodeUnknown, err, "内部错误")
	}
	status := xe.HTTPStatus()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"status":     "error",
		"message":    xe.Message(),
		"code":       status,
		"error_code": xe.Code(),
	})
}

// readBody 读取受限大小的请求体。
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	return body, nil
}

// decodeBody 解析受限大小的 JSON 请求体。
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := readBody(w, r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
