package models

import (
	"context"
	"errors"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"gorm.io/gorm"
)

// Order mirrors the order records kept by the shop backend. InvoiceNumber is
// populated asynchronously after order creation, so a freshly created order
// can legitimately be missing it for a short while.
type Order struct {
	ID             string      `gorm:"primaryKey;size:64" json:"id"`
	InvoiceNumber  *string     `gorm:"size:64;index" json:"invoiceNumber"`
	FinalTotal     int64       `gorm:"not null" json:"finalTotal"`
	CustomerName   string      `gorm:"size:191" json:"customerName"`
	ShippingName   *string     `gorm:"size:191" json:"shippingName"`
	UserId         int         `gorm:"index" json:"userId"`
	Status         OrderStatus `gorm:"size:24;index;default:pending" json:"status"`
	PaymentGroupId *string     `gorm:"size:64;index" json:"paymentGroupId"`
	PaidAt         *time.Time  `json:"paidAt"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// DisplayName is the name used for matching and for audit entries. Shipping
// name wins over the account holder name when present.
func (o *Order) DisplayName() string {
	if o.ShippingName != nil && *o.ShippingName != "" {
		return *o.ShippingName
	}
	return o.CustomerName
}

func GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	err := config.GetDB().WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetCandidateOrders returns every order still awaiting payment, the pool a
// detection is matched against.
func GetCandidateOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := config.GetDB().WithContext(ctx).
		Where("status IN ?", []OrderStatus{OrderStatusPending, OrderStatusWaitingPayment}).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func GetOrdersInPaymentGroup(ctx context.Context, groupId string) ([]Order, error) {
	var orders []Order
	err := config.GetDB().WithContext(ctx).
		Where("payment_group_id = ?", groupId).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func MarkOrderPaid(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  OrderStatusPaid,
			"paid_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	config.PublishChange(ctx, config.ChangeEvent{
		Source:      config.ChangeSourceOrders,
		ReferenceId: id,
	})
	return nil
}
