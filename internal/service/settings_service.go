package service

import (
	"context"

	"vibin-go/internal/model"
	"vibin-go/internal/repository"
)

// SettingsService 定义了用户隐私设置的业务接口。
type SettingsService interface {
	GetSettings(ctx context.Context, user string) (model.UserSettings, error)
	UpdateSettings(ctx context.Context, user string, settings model.UserSettings) error
}

type settingsService struct {
	repo repository.SettingsRepository
}

// NewSettingsService 创建一个新的 SettingsService。
func NewSettingsService(repo repository.SettingsRepository) SettingsService {
	return &settingsService{repo: repo}
}

// GetSettings 返回用户设置，缺失时为缺省值。
func (s *settingsService) GetSettings(ctx context.Context, user string) (model.UserSettings, error) {
	u := normalizeUsername(user)
	if u == "" {
		return model.DefaultSettings(), ErrInvalidUsername
	}
	return s.repo.Get(ctx, u)
}

// UpdateSettings 整份覆盖用户设置。
// 已读回执的可见性在读取侧过滤，这里关掉开关立即对既有数据生效。
func (s *settingsService) UpdateSettings(ctx context.Context, user string, settings model.UserSettings) error {
	u := normalizeUsername(user)
	if u == "" {
		return ErrInvalidUsername
	}
	return s.repo.Set(ctx, u, settings)
}
