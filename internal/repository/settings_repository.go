package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"vibin-go/internal/kv"
	"vibin-go/internal/model"
)

// SettingsRepository 定义了用户隐私设置的存取接口。
type SettingsRepository interface {
	Get(ctx context.Context, user string) (model.UserSettings, error)
	Set(ctx context.Context, user string, settings model.UserSettings) error
}

type kvSettingsRepository struct {
	store *kv.FailoverStore
}

// NewSettingsRepository 创建一个新的 SettingsRepository 实例。
func NewSettingsRepository(store *kv.FailoverStore) SettingsRepository {
	return &kvSettingsRepository{store: store}
}

func settingsKey(user string) string { return fmt.Sprintf("settings:%s", user) }

// Get 读取用户设置；记录缺失或损坏时回落到缺省值。
func (r *kvSettingsRepository) Get(ctx context.Context, user string) (model.UserSettings, error) {
	res, err := r.store.Command(ctx, kv.Get(settingsKey(user)))
	if err != nil {
		return model.DefaultSettings(), fmt.Errorf("failed to get settings: %w", err)
	}
	data, ok := res.(string)
	if !ok || data == "" {
		return model.DefaultSettings(), nil
	}
	var settings model.UserSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return model.DefaultSettings(), nil
	}
	return settings, nil
}

// Set 整份覆盖用户设置。
func (r *kvSettingsRepository) Set(ctx context.Context, user string, settings model.UserSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if _, err := r.store.Command(ctx, kv.Set(settingsKey(user), string(data), 0)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
