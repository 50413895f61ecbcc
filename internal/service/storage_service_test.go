package service

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/config"
	"fin_quiz_backend/internal/util"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorageService_SelectsOSSProvider(t *testing.T) {
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{
		Type:         util.StorageOSS,
		OSSEndpoint:  "oss-cn-hangzhou.aliyuncs.com",
		OSSAccessKey: "ak",
		OSSSecretKey: "sk",
		OSSBucket:    "fin-quiz",
	}})

	provider, ok := svc.Provider.(*OSSStorageProvider)
	require.True(t, ok)
	assert.Equal(t, "https://fin-quiz.oss-cn-hangzhou.aliyuncs.com/exports/1/a.json", provider.GetURL("exports/1/a.json"))
}

func TestNewStorageService_DefaultsToLocal(t *testing.T) {
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()}})

	_, ok := svc.Provider.(*LocalStorageProvider)
	assert.True(t, ok)
}

func TestLocalStorageProvider_UploadAndDelete(t *testing.T) {
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()}})
	ctx := context.Background()

	url, err := svc.Upload(ctx, "1/report.json", strings.NewReader("{}"), 2, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "/exports/1/report.json", url)

	require.NoError(t, svc.Delete(ctx, "1/report.json"))
	assert.True(t, errors.Is(svc.Delete(ctx, "1/report.json"), os.ErrNotExist))
}
