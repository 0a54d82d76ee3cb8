package models

import (
	"context"
	"errors"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDetectionAlreadyDecided is returned when a verify or ignore hits a
// detection that has already left the pending partition.
var ErrDetectionAlreadyDecided = errors.New("detection already decided")

// PaymentDetection is one observed incoming bank transfer. Amounts are in
// integer rupiah.
type PaymentDetection struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	Amount        int64           `gorm:"not null" json:"amount"`
	SenderName    string          `gorm:"size:191" json:"senderName"`
	Bank          string          `gorm:"size:64" json:"bank"`
	Timestamp     time.Time       `gorm:"not null" json:"timestamp"`
	RawText       string          `gorm:"type:text" json:"rawText"`
	ScreenshotUrl *string         `gorm:"size:512" json:"screenshotUrl"`
	Status        DetectionStatus `gorm:"size:16;index;default:pending" json:"status"`

	MatchedOrderId   *string           `gorm:"size:64" json:"matchedOrderId"`
	Confidence       *int              `json:"confidence"`
	VerifiedBy       *string           `gorm:"size:64" json:"verifiedBy"`
	VerifiedAt       *time.Time        `json:"verifiedAt"`
	VerificationMode *VerificationMode `gorm:"size:16" json:"verificationMode"`

	IgnoredAt     *time.Time `json:"ignoredAt"`
	IgnoredReason *string    `gorm:"size:255" json:"ignoredReason"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewPaymentDetection struct {
	Amount        int64     `json:"amount" binding:"required"`
	SenderName    string    `json:"senderName"`
	Bank          string    `json:"bank"`
	Timestamp     time.Time `json:"timestamp"`
	RawText       string    `json:"rawText"`
	ScreenshotUrl *string   `json:"screenshotUrl"`
}

func CreatePaymentDetection(ctx context.Context, input NewPaymentDetection) (*PaymentDetection, error) {
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now().UTC()
	}
	detection := PaymentDetection{
		ID:            uuid.NewString(),
		Amount:        input.Amount,
		SenderName:    input.SenderName,
		Bank:          input.Bank,
		Timestamp:     input.Timestamp,
		RawText:       input.RawText,
		ScreenshotUrl: input.ScreenshotUrl,
		Status:        DetectionStatusPending,
	}
	if err := config.GetDB().WithContext(ctx).Create(&detection).Error; err != nil {
		return nil, err
	}
	config.PublishChange(ctx, config.ChangeEvent{
		Source:      config.ChangeSourceDetections,
		ReferenceId: detection.ID,
	})
	return &detection, nil
}

func GetPaymentDetection(ctx context.Context, id string) (*PaymentDetection, error) {
	var detection PaymentDetection
	err := config.GetDB().WithContext(ctx).First(&detection, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &detection, nil
}

func GetDetectionsByStatus(ctx context.Context, status DetectionStatus, limit int) ([]PaymentDetection, error) {
	if limit <= 0 {
		limit = 100
	}
	var detections []PaymentDetection
	err := config.GetDB().WithContext(ctx).
		Where("status = ?", status).
		Order("timestamp DESC").
		Limit(limit).
		Find(&detections).Error
	if err != nil {
		return nil, err
	}
	return detections, nil
}

func GetPendingDetections(ctx context.Context) ([]PaymentDetection, error) {
	var detections []PaymentDetection
	err := config.GetDB().WithContext(ctx).
		Where("status = ?", DetectionStatusPending).
		Order("timestamp ASC").
		Find(&detections).Error
	if err != nil {
		return nil, err
	}
	return detections, nil
}

// VerifyDetection retires a pending detection into the verified partition.
// The update is conditional on status still being pending so that concurrent
// actors cannot both succeed.
func VerifyDetection(ctx context.Context, id string, orderId string, confidence int, actor string, mode VerificationMode) (*PaymentDetection, error) {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&PaymentDetection{}).
		Where("id = ? AND status = ?", id, DetectionStatusPending).
		Updates(map[string]interface{}{
			"status":            DetectionStatusVerified,
			"matched_order_id":  orderId,
			"confidence":        confidence,
			"verified_by":       actor,
			"verified_at":       now,
			"verification_mode": mode,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDetectionAlreadyDecided
	}
	config.PublishChange(ctx, config.ChangeEvent{
		Source:      config.ChangeSourceDetections,
		ReferenceId: id,
	})
	return GetPaymentDetection(ctx, id)
}

// IgnoreDetection retires a pending detection into the ignored partition.
func IgnoreDetection(ctx context.Context, id string, actor string, reason string) (*PaymentDetection, error) {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&PaymentDetection{}).
		Where("id = ? AND status = ?", id, DetectionStatusPending).
		Updates(map[string]interface{}{
			"status":         DetectionStatusIgnored,
			"ignored_at":     now,
			"ignored_reason": reason,
			"verified_by":    actor,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDetectionAlreadyDecided
	}
	config.PublishChange(ctx, config.ChangeEvent{
		Source:      config.ChangeSourceDetections,
		ReferenceId: id,
	})
	return GetPaymentDetection(ctx, id)
}
