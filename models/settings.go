package models

import (
	"context"
	"errors"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const settingsCacheKey = "azzahra:auto_verify_settings"

var settingsValidate = validator.New()

// AutoVerifySettings is the single automation policy row (id is always 1).
// Every autonomous pass re-reads it so operator changes take effect on the
// next pass without a restart.
type AutoVerifySettings struct {
	ID                      int              `gorm:"primaryKey" json:"-"`
	Mode                    VerificationMode `gorm:"size:16;default:semi-auto" json:"mode" validate:"required,oneof=semi-auto full-auto"`
	Enabled                 *bool            `gorm:"default:true" json:"enabled" validate:"required"`
	AutoConfirmThreshold    int              `gorm:"default:90" json:"autoConfirmThreshold" validate:"min=0,max=100"`
	ExactAmountMatch        *bool            `gorm:"default:true" json:"exactAmountMatch"`
	NameSimilarityThreshold int              `gorm:"default:60" json:"nameSimilarityThreshold" validate:"min=0,max=100"`
	MaxOrderAgeSeconds      int              `gorm:"default:86400" json:"maxOrderAgeSeconds" validate:"min=0"`
	TestMode                *bool            `gorm:"default:false" json:"testMode"`
	UpdatedBy               string           `gorm:"size:64" json:"updatedBy"`
	UpdatedAt               time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

func DefaultSettings() AutoVerifySettings {
	return AutoVerifySettings{
		ID:                      1,
		Mode:                    VerificationModeSemiAuto,
		Enabled:                 utils.NewTrue(),
		AutoConfirmThreshold:    90,
		ExactAmountMatch:        utils.NewTrue(),
		NameSimilarityThreshold: 60,
		MaxOrderAgeSeconds:      86400,
		TestMode:                utils.NewFalse(),
	}
}

// AutonomousEnabled reports whether the worker may execute verifications on
// its own. Semi-auto and disabled both mean no autonomous writes.
func (s *AutoVerifySettings) AutonomousEnabled() bool {
	return utils.DereferencePtr(s.Enabled) && s.Mode == VerificationModeFullAuto
}

func (s *AutoVerifySettings) IsTestMode() bool {
	return utils.DereferencePtr(s.TestMode)
}

// GetSettings returns the current policy. A missing row falls back to the
// defaults (never an error) so automation stays in its safest configuration
// rather than halting on first boot.
func GetSettings(ctx context.Context) (*AutoVerifySettings, error) {
	var cached AutoVerifySettings
	found, err := config.GetRedisObject(settingsCacheKey, &cached)
	if err == nil && found {
		return &cached, nil
	}

	var settings AutoVerifySettings
	err = config.GetDB().WithContext(ctx).First(&settings, "id = ?", 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			defaults := DefaultSettings()
			return &defaults, nil
		}
		return nil, err
	}
	_ = config.SetRedisObject(settingsCacheKey, settings, 5*time.Minute)
	return &settings, nil
}

type UpdateSettingsInput struct {
	Mode                    VerificationMode `json:"mode"`
	Enabled                 *bool            `json:"enabled"`
	AutoConfirmThreshold    *int             `json:"autoConfirmThreshold"`
	ExactAmountMatch        *bool            `json:"exactAmountMatch"`
	NameSimilarityThreshold *int             `json:"nameSimilarityThreshold"`
	MaxOrderAgeSeconds      *int             `json:"maxOrderAgeSeconds"`
	TestMode                *bool            `json:"testMode"`
}

// UpdateSettings applies a partial update on top of the current policy,
// validates the result and upserts the singleton row.
func UpdateSettings(ctx context.Context, input UpdateSettingsInput, actor string) (*AutoVerifySettings, error) {
	current, err := GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	next := *current
	next.ID = 1
	if input.Mode != "" {
		next.Mode = input.Mode
	}
	if input.Enabled != nil {
		next.Enabled = input.Enabled
	}
	if input.AutoConfirmThreshold != nil {
		next.AutoConfirmThreshold = *input.AutoConfirmThreshold
	}
	if input.ExactAmountMatch != nil {
		next.ExactAmountMatch = input.ExactAmountMatch
	}
	if input.NameSimilarityThreshold != nil {
		next.NameSimilarityThreshold = *input.NameSimilarityThreshold
	}
	if input.MaxOrderAgeSeconds != nil {
		next.MaxOrderAgeSeconds = *input.MaxOrderAgeSeconds
	}
	if input.TestMode != nil {
		next.TestMode = input.TestMode
	}
	next.UpdatedBy = actor
	next.UpdatedAt = time.Now().UTC()

	if err := settingsValidate.Struct(&next); err != nil {
		return nil, err
	}

	err = config.GetDB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&next).Error
	if err != nil {
		return nil, err
	}

	_ = config.RemoveRedisKey(settingsCacheKey)
	config.PublishChange(ctx, config.ChangeEvent{
		Source:      config.ChangeSourceSettings,
		ReferenceId: "1",
	})
	return &next, nil
}
