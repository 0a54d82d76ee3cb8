package models

// DetectionStatus is the partition a payment detection lives in. A detection
// moves out of pending exactly once and never comes back.
type DetectionStatus string

const (
	DetectionStatusPending  DetectionStatus = "pending"
	DetectionStatusVerified DetectionStatus = "verified"
	DetectionStatusIgnored  DetectionStatus = "ignored"
)

// VerificationMode distinguishes operator-confirmed from autonomous
// verification.
type VerificationMode string

const (
	VerificationModeSemiAuto VerificationMode = "semi-auto"
	VerificationModeFullAuto VerificationMode = "full-auto"
)

// LogStatus is the outcome recorded for one execution attempt.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusDryRun  LogStatus = "dry-run"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusWaitingPayment OrderStatus = "waiting_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// SystemActor is the executedBy value for autonomous verifications.
const SystemActor = "system"
