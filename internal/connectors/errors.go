package connectors

import (
	"errors"

	xerrors "DeafFirst-Hub/internal/errors"
	"DeafFirst-Hub/pkg/plugin"
)

// Classify 将 plugin 包的哨兵错误映射为带错误码的 xerrors.Error。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	switch {
	case errors.Is(err, plugin.ErrNotFound):
		return xerrors.Wrap(xerrors.CodeConnectorNotFound, err, "连接器不存在")
	case errors.Is(err, plugin.ErrDisabled):
		return xerrors.Wrap(xerrors.CodeConnectorDisabled, err, "连接器已禁用")
	case errors.Is(err, plugin.ErrTimeout):
		return xerrors.Wrap(xerrors.CodeTimeout, err, "连接器执行超时")
	case errors.Is(err, plugin.ErrDuplicate):
		return xerrors.Wrap(xerrors.CodeConflict, err, "连接器已存在")
	case errors.Is(err, plugin.ErrInvalidConfig), errors.Is(err, plugin.ErrInvalidRequest), errors.Is(err, plugin.ErrPolicyDenied):
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "连接器请求无效")
	default:
		return xerrors.Wrap(xerrors.CodeConnectorExecutionFailed, err, "连接器执行失败")
	}
}
