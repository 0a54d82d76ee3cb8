package verifier

import (
	"context"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/models"
	"github.com/sirupsen/logrus"
)

// GORM-backed adapters over the models package, the production wiring for
// the worker's store interfaces.

type gormDetections struct{}

func (gormDetections) Pending(ctx context.Context) ([]models.PaymentDetection, error) {
	return models.GetPendingDetections(ctx)
}

func (gormDetections) Verify(ctx context.Context, id string, orderId string, confidence int, actor string, mode models.VerificationMode) error {
	_, err := models.VerifyDetection(ctx, id, orderId, confidence, actor, mode)
	return err
}

type gormOrders struct{}

func (gormOrders) Candidates(ctx context.Context) ([]models.Order, error) {
	return models.GetCandidateOrders(ctx)
}

func (gormOrders) Get(ctx context.Context, id string) (*models.Order, error) {
	return models.GetOrder(ctx, id)
}

func (gormOrders) InGroup(ctx context.Context, groupId string) ([]models.Order, error) {
	return models.GetOrdersInPaymentGroup(ctx, groupId)
}

func (gormOrders) MarkPaid(ctx context.Context, id string) error {
	return models.MarkOrderPaid(ctx, id)
}

type gormSettings struct{}

func (gormSettings) Current(ctx context.Context) (*models.AutoVerifySettings, error) {
	return models.GetSettings(ctx)
}

type gormAudit struct{}

func (gormAudit) Append(ctx context.Context, input models.NewVerificationLog) error {
	_, err := models.CreateLog(ctx, input)
	return err
}

// NewGormWorker wires the worker to the shared database, using the redis
// guard when a lock client is connected and the in-memory guard otherwise.
func NewGormWorker(logger *logrus.Logger, opts ...Option) *Worker {
	var guard ProcessingGuard = NewMemoryGuard()
	if locker := config.GetRedisLock(); locker != nil {
		guard = NewRedisGuard(locker, 0)
	}
	base := []Option{WithGuard(guard)}
	base = append(base, opts...)
	return New(logger, gormDetections{}, gormOrders{}, gormSettings{}, gormAudit{}, base...)
}
