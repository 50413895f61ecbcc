package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type ProgressReader interface {
	GetOrCreateProgress(ctx context.Context, userID uint) (*model.UserProgress, error)
}

type ExportStorage interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
}

// ProgressExport 导出文件内容
type ProgressExport struct {
	ExportedAt time.Time           `json:"exportedAt"`
	Progress   *model.UserProgress `json:"progress"`
}

type ExportResult struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type ExportService struct {
	Progress ProgressReader
	Storage  ExportStorage
	Now      func() time.Time
}

func NewExportService(progress ProgressReader, storage ExportStorage) *ExportService {
	return &ExportService{Progress: progress, Storage: storage, Now: time.Now}
}

func (s *ExportService) ExportProgress(ctx context.Context, userID uint) (*ExportResult, error) {
	p, err := s.Progress.GetOrCreateProgress(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	data, err := json.MarshalIndent(ProgressExport{ExportedAt: now, Progress: p}, "", "  ")
	if err != nil {
		return nil, err
	}

	filename := exportPath(userID, now.Format(util.ExportTimeFormat)+".json")
	url, err := s.Storage.Upload(ctx, filename, bytes.NewReader(data), int64(len(data)), util.MimeJSON)
	if err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}

	return &ExportResult{Filename: filename, URL: url, Size: int64(len(data))}, nil
}

func exportPath(userID uint, name string) string {
	return fmt.Sprintf("progress/%d/%s", userID, name)
}

// DeleteExport 删除当前用户的导出文件，name 只能是 ExportProgress 生成的文件名
func (s *ExportService) DeleteExport(ctx context.Context, userID uint, name string) error {
	stamp, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return util.ErrExportNotFound
	}
	if _, err := time.Parse(util.ExportTimeFormat, stamp); err != nil {
		return util.ErrExportNotFound
	}

	if err := s.Storage.Delete(ctx, exportPath(userID, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return util.ErrExportNotFound
		}
		return fmt.Errorf("delete export: %w", err)
	}
	return nil
}
