package models

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/xuri/excelize/v2"
)

// OrderDetail is the per-order snapshot embedded in a group payment log entry.
type OrderDetail struct {
	OrderId       string  `json:"orderId"`
	InvoiceNumber *string `json:"invoiceNumber"`
	FinalTotal    int64   `json:"finalTotal"`
}

// VerificationLog is one append-only audit entry. Exactly one entry is
// written per execution attempt; entries are never updated or rewritten.
// The auto-increment ID doubles as the monotonic ordering key.
type VerificationLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"autoCreateTime;index" json:"timestamp"`

	OrderId       string  `gorm:"size:64;index" json:"orderId"`
	InvoiceNumber *string `gorm:"size:64" json:"invoiceNumber"`
	CustomerName  string  `gorm:"size:191" json:"customerName"`
	Amount        int64   `json:"amount"`

	DetectionId     string `gorm:"size:36;index" json:"detectionId"`
	DetectionAmount int64  `json:"detectionAmount"`
	SenderName      string `gorm:"size:191" json:"senderName"`
	Bank            string `gorm:"size:64" json:"bank"`
	RawNotification string `gorm:"type:text" json:"rawNotification"`

	Confidence   int       `json:"confidence"`
	MatchReason  string    `gorm:"size:255" json:"matchReason"`
	Status       LogStatus `gorm:"size:16;index" json:"status"`
	ExecutedBy   string    `gorm:"size:64" json:"executedBy"`
	ErrorMessage *string   `gorm:"size:512" json:"errorMessage"`

	PaymentGroupId *string       `gorm:"size:64" json:"paymentGroupId"`
	OrderIds       []string      `gorm:"serializer:json" json:"orderIds"`
	OrderDetails   []OrderDetail `gorm:"serializer:json" json:"orderDetails"`
	IsGroupPayment *bool         `json:"isGroupPayment"`
}

type NewVerificationLog struct {
	OrderId         string
	InvoiceNumber   *string
	CustomerName    string
	Amount          int64
	DetectionId     string
	DetectionAmount int64
	SenderName      string
	Bank            string
	RawNotification string
	Confidence      int
	MatchReason     string
	Status          LogStatus
	ExecutedBy      string
	ErrorMessage    *string
	PaymentGroupId  *string
	OrderIds        []string
	OrderDetails    []OrderDetail
	IsGroupPayment  *bool
}

func CreateLog(ctx context.Context, input NewVerificationLog) (*VerificationLog, error) {
	entry := VerificationLog{
		OrderId:         input.OrderId,
		InvoiceNumber:   input.InvoiceNumber,
		CustomerName:    input.CustomerName,
		Amount:          input.Amount,
		DetectionId:     input.DetectionId,
		DetectionAmount: input.DetectionAmount,
		SenderName:      input.SenderName,
		Bank:            input.Bank,
		RawNotification: input.RawNotification,
		Confidence:      input.Confidence,
		MatchReason:     input.MatchReason,
		Status:          input.Status,
		ExecutedBy:      input.ExecutedBy,
		ErrorMessage:    input.ErrorMessage,
		PaymentGroupId:  input.PaymentGroupId,
		OrderIds:        input.OrderIds,
		OrderDetails:    input.OrderDetails,
		IsGroupPayment:  input.IsGroupPayment,
	}
	if err := config.GetDB().WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func GetLogs(ctx context.Context, status *LogStatus, limit int) ([]VerificationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := config.GetDB().WithContext(ctx).Model(&VerificationLog{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var logs []VerificationLog
	err := query.Order("id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// reportLocation is the timezone used for day boundaries in reports. The
// operators work in WIB, so "today" means their midnight, not UTC's.
func reportLocation() *time.Location {
	name := os.Getenv("APP_TIMEZONE")
	if name == "" {
		name = "Asia/Jakarta"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// startOfDay returns midnight of t's calendar day in t's own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func GetTodayLogs(ctx context.Context) ([]VerificationLog, error) {
	start := startOfDay(time.Now().In(reportLocation()))
	var logs []VerificationLog
	err := config.GetDB().WithContext(ctx).
		Where("timestamp >= ?", start).
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

type LogStats struct {
	Total         int64 `json:"total"`
	Success       int64 `json:"success"`
	Failed        int64 `json:"failed"`
	DryRun        int64 `json:"dryRun"`
	SuccessAmount int64 `json:"successAmount"`
}

func GetLogStats(ctx context.Context) (*LogStats, error) {
	db := config.GetDB().WithContext(ctx)
	var stats LogStats

	if err := db.Model(&VerificationLog{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	counts := []struct {
		status LogStatus
		dest   *int64
	}{
		{LogStatusSuccess, &stats.Success},
		{LogStatusFailed, &stats.Failed},
		{LogStatusDryRun, &stats.DryRun},
	}
	for _, c := range counts {
		if err := db.Model(&VerificationLog{}).Where("status = ?", c.status).Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	err := db.Model(&VerificationLog{}).
		Where("status = ?", LogStatusSuccess).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.SuccessAmount).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func DeleteLog(ctx context.Context, id uint) error {
	res := config.GetDB().WithContext(ctx).Delete(&VerificationLog{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func DeleteAllLogs(ctx context.Context) (int64, error) {
	res := config.GetDB().WithContext(ctx).Where("1 = 1").Delete(&VerificationLog{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ExportLogsExcel renders the full audit trail as an xlsx workbook.
func ExportLogsExcel(ctx context.Context) (*excelize.File, error) {
	var logs []VerificationLog
	err := config.GetDB().WithContext(ctx).Order("id ASC").Find(&logs).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Verification Logs"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"ID", "Timestamp", "Status", "Order ID", "Invoice", "Customer",
		"Amount", "Detection ID", "Sender", "Bank", "Detected Amount",
		"Confidence", "Reason", "Executed By", "Error", "Group",
		"Raw Notification",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, entry := range logs {
		values := []interface{}{
			entry.ID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			string(entry.Status),
			entry.OrderId,
			derefString(entry.InvoiceNumber),
			entry.CustomerName,
			entry.Amount,
			entry.DetectionId,
			entry.SenderName,
			entry.Bank,
			entry.DetectionAmount,
			entry.Confidence,
			entry.MatchReason,
			entry.ExecutedBy,
			derefString(entry.ErrorMessage),
			derefString(entry.PaymentGroupId),
			entry.RawNotification,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return f, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ExportFileName builds the download name used by the export endpoint.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("verification-logs-%s.xlsx", now.Format("20060102-150405"))
}
