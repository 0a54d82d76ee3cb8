// Package verifier runs the reconciliation loop that matches pending payment
// detections against open orders and, under a full-auto policy, executes the
// verification on its own. The loop is event driven: mutations to detections,
// orders or settings wake it via Notify, and passes are coalescing so a burst
// of changes costs one pass.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/matcher"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/models"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/sirupsen/logrus"
)

type DetectionStore interface {
	Pending(ctx context.Context) ([]models.PaymentDetection, error)
	Verify(ctx context.Context, id string, orderId string, confidence int, actor string, mode models.VerificationMode) error
}

type OrderSource interface {
	Candidates(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	InGroup(ctx context.Context, groupId string) ([]models.Order, error)
	MarkPaid(ctx context.Context, id string) error
}

type SettingsSource interface {
	Current(ctx context.Context) (*models.AutoVerifySettings, error)
}

type AuditLog interface {
	Append(ctx context.Context, input models.NewVerificationLog) error
}

// Worker owns the reconciliation loop. All collaborators sit behind small
// interfaces so the loop can be tested without a database.
type Worker struct {
	logger     *logrus.Logger
	detections DetectionStore
	orders     OrderSource
	settings   SettingsSource
	audit      AuditLog
	guard      ProcessingGuard
	retry      RetryPolicy
	tierHook   TierUpgradeHook

	trigger chan struct{}
}

func New(logger *logrus.Logger, detections DetectionStore, orders OrderSource, settings SettingsSource, audit AuditLog, opts ...Option) *Worker {
	w := &Worker{
		logger:     logger,
		detections: detections,
		orders:     orders,
		settings:   settings,
		audit:      audit,
		guard:      NewMemoryGuard(),
		retry:      StaleMetadataRetry,
		tierHook:   NoopTierUpgrade,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type Option func(*Worker)

func WithGuard(g ProcessingGuard) Option    { return func(w *Worker) { w.guard = g } }
func WithRetry(p RetryPolicy) Option        { return func(w *Worker) { w.retry = p } }
func WithTierHook(h TierUpgradeHook) Option { return func(w *Worker) { w.tierHook = h } }

// Notify wakes the loop. The trigger channel has capacity one, so any number
// of notifications while a pass is running collapse into a single next pass.
func (w *Worker) Notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run executes one initial pass and then blocks on triggers until the
// context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			w.Reconcile(ctx)
		}
	}
}

// Reconcile runs a single pass over the pending detections. The policy is
// re-read at the top of every pass; when the policy cannot be read no
// autonomous action is taken.
func (w *Worker) Reconcile(ctx context.Context) {
	settings, err := w.settings.Current(ctx)
	if err != nil {
		config.LogError(w.logger, "verifier", "Reconcile", "read settings", nil, err)
		return
	}
	if !settings.AutonomousEnabled() {
		return
	}

	pending, err := w.detections.Pending(ctx)
	if err != nil {
		config.LogError(w.logger, "verifier", "Reconcile", "list pending detections", nil, err)
		return
	}
	if len(pending) == 0 {
		return
	}

	orders, err := w.orders.Candidates(ctx)
	if err != nil {
		config.LogError(w.logger, "verifier", "Reconcile", "list candidate orders", nil, err)
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := w.processOne(ctx, &pending[i], orders, settings); err != nil {
			config.LogError(w.logger, "verifier", "Reconcile", "process detection", map[string]interface{}{
				"detectionId": pending[i].ID,
			}, err)
		}
	}
}

func (w *Worker) processOne(ctx context.Context, detection *models.PaymentDetection, orders []models.Order, settings *models.AutoVerifySettings) error {
	candidates := matcher.Match(detection, orders)
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	if best.Confidence < settings.AutoConfirmThreshold {
		return nil
	}

	claimed, err := w.guard.Claim(ctx, detection.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	var snapshot *models.Order
	for i := range orders {
		if orders[i].ID == best.OrderID {
			snapshot = &orders[i]
			break
		}
	}
	return w.execute(ctx, detection, snapshot, best, settings)
}

// execute carries out one verification attempt against a guarded detection.
// Exactly one audit entry is appended per attempt. Success keeps the guard
// claim (the detection is retired); failures and dry-runs release it.
func (w *Worker) execute(ctx context.Context, detection *models.PaymentDetection, snapshot *models.Order, candidate matcher.Candidate, settings *models.AutoVerifySettings) error {
	order, err := w.fetchAuthoritative(ctx, candidate.OrderID, snapshot)
	if err != nil {
		w.guard.Release(ctx, detection.ID)
		return w.appendFailed(ctx, detection, snapshot, candidate, err)
	}

	groupOrders, groupTotal, err := w.resolveGroup(ctx, order)
	if err != nil {
		w.guard.Release(ctx, detection.ID)
		return w.appendFailed(ctx, detection, order, candidate, err)
	}

	if settings.IsTestMode() {
		entry := w.buildLogInput(detection, order, candidate, groupOrders, groupTotal)
		entry.Status = models.LogStatusDryRun
		entry.ExecutedBy = models.SystemActor
		if err := w.audit.Append(ctx, entry); err != nil {
			config.LogError(w.logger, "verifier", "execute", "append dry-run log", map[string]interface{}{
				"detectionId": detection.ID,
			}, err)
		}
		w.guard.Release(ctx, detection.ID)
		return nil
	}

	for _, g := range groupOrders {
		if err := w.orders.MarkPaid(ctx, g.ID); err != nil {
			w.guard.Release(ctx, detection.ID)
			return w.appendFailed(ctx, detection, order, candidate, fmt.Errorf("mark order %s paid: %w", g.ID, err))
		}
	}

	err = w.detections.Verify(ctx, detection.ID, order.ID, candidate.Confidence, models.SystemActor, models.VerificationModeFullAuto)
	if err != nil {
		if errors.Is(err, models.ErrDetectionAlreadyDecided) {
			w.guard.Release(ctx, detection.ID)
			return nil
		}
		w.guard.Release(ctx, detection.ID)
		return w.appendFailed(ctx, detection, order, candidate, err)
	}

	w.fireTierHook(order.UserId, orderIds(groupOrders))

	entry := w.buildLogInput(detection, order, candidate, groupOrders, groupTotal)
	entry.Status = models.LogStatusSuccess
	entry.ExecutedBy = models.SystemActor
	if err := w.audit.Append(ctx, entry); err != nil {
		config.LogError(w.logger, "verifier", "execute", "append success log", map[string]interface{}{
			"detectionId": detection.ID,
		}, err)
	}

	w.logger.WithFields(logrus.Fields{
		"module":      "verifier",
		"detectionId": detection.ID,
		"orderId":     order.ID,
		"confidence":  candidate.Confidence,
	}).Info("detection auto-verified")
	return nil
}

// fetchAuthoritative re-reads the matched order right before execution. An
// order whose invoice number has not settled yet gets one delayed re-read;
// when it still has no invoice the stale snapshot fills in display fields
// but the fresh row drives the mutation.
func (w *Worker) fetchAuthoritative(ctx context.Context, orderId string, snapshot *models.Order) (*models.Order, error) {
	var fresh *models.Order
	err := w.retry.Until(ctx, func() (bool, error) {
		order, err := w.orders.Get(ctx, orderId)
		if err != nil {
			return false, err
		}
		fresh = order
		if order.InvoiceNumber == nil || *order.InvoiceNumber == "" {
			return false, nil
		}
		return true, nil
	})
	if fresh == nil {
		if err == nil {
			err = fmt.Errorf("order %s not found", orderId)
		}
		return nil, err
	}
	if (fresh.InvoiceNumber == nil || *fresh.InvoiceNumber == "") && snapshot != nil {
		fresh.InvoiceNumber = snapshot.InvoiceNumber
	}
	return fresh, nil
}

// resolveGroup expands a grouped payment into every order it covers. A plain
// order is its own group of one.
func (w *Worker) resolveGroup(ctx context.Context, order *models.Order) ([]models.Order, int64, error) {
	if order.PaymentGroupId == nil || *order.PaymentGroupId == "" {
		return []models.Order{*order}, order.FinalTotal, nil
	}
	group, err := w.orders.InGroup(ctx, *order.PaymentGroupId)
	if err != nil {
		return nil, 0, err
	}
	if len(group) == 0 {
		group = []models.Order{*order}
	}
	var total int64
	for _, g := range group {
		total += g.FinalTotal
	}
	return group, total, nil
}

func (w *Worker) fireTierHook(userId int, orderIds []string) {
	hook := w.tierHook
	if hook == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithField("module", "verifier").Errorf("tier hook panic: %v", r)
			}
		}()
		if err := hook(context.Background(), userId, orderIds); err != nil {
			w.logger.WithFields(logrus.Fields{
				"module": "verifier",
				"userId": userId,
			}).Warn("tier upgrade hook failed: " + err.Error())
		}
	}()
}

func (w *Worker) appendFailed(ctx context.Context, detection *models.PaymentDetection, order *models.Order, candidate matcher.Candidate, cause error) error {
	msg := cause.Error()
	entry := models.NewVerificationLog{
		OrderId:         candidate.OrderID,
		DetectionId:     detection.ID,
		DetectionAmount: detection.Amount,
		SenderName:      detection.SenderName,
		Bank:            detection.Bank,
		RawNotification: detection.RawText,
		Confidence:      candidate.Confidence,
		MatchReason:     candidate.Reason,
		Status:          models.LogStatusFailed,
		ExecutedBy:      models.SystemActor,
		ErrorMessage:    &msg,
	}
	if order != nil {
		entry.InvoiceNumber = order.InvoiceNumber
		entry.CustomerName = order.DisplayName()
		entry.Amount = order.FinalTotal
	}
	if err := w.audit.Append(ctx, entry); err != nil {
		config.LogError(w.logger, "verifier", "appendFailed", "append failed log", map[string]interface{}{
			"detectionId": detection.ID,
		}, err)
	}
	return cause
}

func (w *Worker) buildLogInput(detection *models.PaymentDetection, order *models.Order, candidate matcher.Candidate, groupOrders []models.Order, groupTotal int64) models.NewVerificationLog {
	entry := models.NewVerificationLog{
		OrderId:         order.ID,
		InvoiceNumber:   order.InvoiceNumber,
		CustomerName:    order.DisplayName(),
		Amount:          groupTotal,
		DetectionId:     detection.ID,
		DetectionAmount: detection.Amount,
		SenderName:      detection.SenderName,
		Bank:            detection.Bank,
		RawNotification: detection.RawText,
		Confidence:      candidate.Confidence,
		MatchReason:     candidate.Reason,
		PaymentGroupId:  order.PaymentGroupId,
	}
	if len(groupOrders) > 1 {
		entry.IsGroupPayment = utils.NewTrue()
		entry.OrderIds = orderIds(groupOrders)
		for _, g := range groupOrders {
			entry.OrderDetails = append(entry.OrderDetails, models.OrderDetail{
				OrderId:       g.ID,
				InvoiceNumber: g.InvoiceNumber,
				FinalTotal:    g.FinalTotal,
			})
		}
	}
	return entry
}

func orderIds(orders []models.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

// ExecuteManual carries out an operator-confirmed verification of a pending
// detection against a chosen order. It shares the execution path semantics
// with the autonomous loop but records the operator as the actor.
func (w *Worker) ExecuteManual(ctx context.Context, detectionId string, orderId string, actor string) (*models.VerificationLog, error) {
	claimed, err := w.guard.Claim(ctx, detectionId)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errors.New("detection is being processed")
	}

	pending, err := w.detections.Pending(ctx)
	if err != nil {
		w.guard.Release(ctx, detectionId)
		return nil, err
	}
	var detection *models.PaymentDetection
	for i := range pending {
		if pending[i].ID == detectionId {
			detection = &pending[i]
			break
		}
	}
	if detection == nil {
		w.guard.Release(ctx, detectionId)
		return nil, models.ErrDetectionAlreadyDecided
	}

	order, err := w.fetchAuthoritative(ctx, orderId, nil)
	if err != nil {
		w.guard.Release(ctx, detectionId)
		return nil, err
	}
	confidence, reason := matcher.Score(detection, order)
	candidate := matcher.Candidate{OrderID: order.ID, Confidence: confidence, Reason: reason}

	groupOrders, groupTotal, err := w.resolveGroup(ctx, order)
	if err != nil {
		w.guard.Release(ctx, detectionId)
		return nil, err
	}

	for _, g := range groupOrders {
		if err := w.orders.MarkPaid(ctx, g.ID); err != nil {
			w.guard.Release(ctx, detectionId)
			return nil, w.appendFailed(ctx, detection, order, candidate, fmt.Errorf("mark order %s paid: %w", g.ID, err))
		}
	}

	err = w.detections.Verify(ctx, detectionId, order.ID, confidence, actor, models.VerificationModeSemiAuto)
	if err != nil {
		w.guard.Release(ctx, detectionId)
		if errors.Is(err, models.ErrDetectionAlreadyDecided) {
			return nil, err
		}
		return nil, w.appendFailed(ctx, detection, order, candidate, err)
	}

	w.fireTierHook(order.UserId, orderIds(groupOrders))

	entry := w.buildLogInput(detection, order, candidate, groupOrders, groupTotal)
	entry.Status = models.LogStatusSuccess
	entry.ExecutedBy = actor
	if err := w.audit.Append(ctx, entry); err != nil {
		config.LogError(w.logger, "verifier", "ExecuteManual", "append success log", map[string]interface{}{
			"detectionId": detectionId,
		}, err)
	}

	log := models.VerificationLog{
		OrderId:      entry.OrderId,
		DetectionId:  entry.DetectionId,
		Confidence:   entry.Confidence,
		Status:       models.LogStatusSuccess,
		ExecutedBy:   actor,
		CustomerName: entry.CustomerName,
		Amount:       entry.Amount,
	}
	return &log, nil
}
