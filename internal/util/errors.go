package util

import "errors"

var (
	ErrUserNotFound      = errors.New("用户不存在")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidQuizResult = errors.New("invalid quiz result")
	ErrProgressConflict  = errors.New("progress version conflict")
	ErrExportNotFound    = errors.New("export not found")
)
