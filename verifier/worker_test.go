package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/models"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/sirupsen/logrus"
)

type fakeDetections struct {
	mu        sync.Mutex
	pending   []models.PaymentDetection
	verified  map[string]string
	verifyErr error
}

func (f *fakeDetections) Pending(context.Context) ([]models.PaymentDetection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PaymentDetection, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeDetections) Verify(_ context.Context, id string, orderId string, _ int, _ string, _ models.VerificationMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return f.verifyErr
	}
	if f.verified == nil {
		f.verified = make(map[string]string)
	}
	if _, ok := f.verified[id]; ok {
		return models.ErrDetectionAlreadyDecided
	}
	f.verified[id] = orderId
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

type fakeOrders struct {
	mu         sync.Mutex
	candidates []models.Order
	groups     map[string][]models.Order
	paid       []string
	markErr    error
	getSeq     []*models.Order
	getCalls   int
}

func (f *fakeOrders) Candidates(context.Context) ([]models.Order, error) {
	return f.candidates, nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if len(f.getSeq) > 0 {
		order := f.getSeq[0]
		if len(f.getSeq) > 1 {
			f.getSeq = f.getSeq[1:]
		}
		cp := *order
		return &cp, nil
	}
	for i := range f.candidates {
		if f.candidates[i].ID == id {
			cp := f.candidates[i]
			return &cp, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (f *fakeOrders) InGroup(_ context.Context, groupId string) ([]models.Order, error) {
	return f.groups[groupId], nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.paid = append(f.paid, id)
	return nil
}

type fakeSettings struct {
	settings *models.AutoVerifySettings
	err      error
}

func (f *fakeSettings) Current(context.Context) (*models.AutoVerifySettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.settings, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.NewVerificationLog
}

func (f *fakeAudit) Append(_ context.Context, input models.NewVerificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, input)
	return nil
}

func (f *fakeAudit) byStatus(status models.LogStatus) []models.NewVerificationLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NewVerificationLog
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func fullAutoSettings() *models.AutoVerifySettings {
	s := models.DefaultSettings()
	s.Mode = models.VerificationModeFullAuto
	s.AutoConfirmThreshold = 90
	return &s
}

func strongPair(now time.Time) (models.PaymentDetection, models.Order) {
	invoice := "INV-001"
	det := models.PaymentDetection{
		ID:         "det-1",
		Amount:     250000,
		SenderName: "SITI NURHALIZA",
		Bank:       "BRI",
		Timestamp:  now,
		RawText:    "TRANSFER MASUK Rp250.000 DARI SITI NURHALIZA",
		Status:     models.DetectionStatusPending,
	}
	ord := models.Order{
		ID:            "ord-1",
		InvoiceNumber: &invoice,
		FinalTotal:    250000,
		CustomerName:  "Siti Nurhaliza",
		UserId:        7,
		Status:        models.OrderStatusWaitingPayment,
		CreatedAt:     now.Add(-10 * time.Minute),
	}
	return det, ord
}

func newTestWorker(det *fakeDetections, ord *fakeOrders, set *fakeSettings, audit *fakeAudit, opts ...Option) *Worker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	base := []Option{WithRetry(RetryPolicy{Attempts: 2, Delay: 0})}
	base = append(base, opts...)
	return New(logger, det, ord, set, audit, base...)
}

func TestReconcileFullAutoSuccess(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	if got := dets.verified["det-1"]; got != "ord-1" {
		t.Fatalf("expected det-1 verified against ord-1, got %q", got)
	}
	if len(ords.paid) != 1 || ords.paid[0] != "ord-1" {
		t.Fatalf("expected ord-1 marked paid, got %v", ords.paid)
	}
	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 {
		t.Fatalf("expected exactly one success entry, got %d", len(success))
	}
	if success[0].ExecutedBy != models.SystemActor {
		t.Fatalf("expected system actor, got %q", success[0].ExecutedBy)
	}
	if success[0].Confidence < 90 {
		t.Fatalf("expected confidence >= 90, got %d", success[0].Confidence)
	}
}

func TestReconcileBelowThresholdNoAction(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	o.FinalTotal = 252000 // amount bracket drops to 20, total 70
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	if len(dets.verified) != 0 {
		t.Fatalf("expected no verification, got %v", dets.verified)
	}
	if len(ords.paid) != 0 {
		t.Fatalf("expected no orders paid, got %v", ords.paid)
	}
	if len(audit.entries) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(audit.entries))
	}
}

func TestReconcileSemiAutoNeverExecutes(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	settings := fullAutoSettings()
	settings.Mode = models.VerificationModeSemiAuto
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: settings}, audit)

	w.Reconcile(context.Background())

	if len(dets.verified) != 0 || len(ords.paid) != 0 || len(audit.entries) != 0 {
		t.Fatal("semi-auto pass must not execute anything")
	}
}

func TestReconcileDisabledNeverExecutes(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	settings := fullAutoSettings()
	settings.Enabled = utils.NewFalse()
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: settings}, audit)

	w.Reconcile(context.Background())

	if len(dets.verified) != 0 || len(ords.paid) != 0 || len(audit.entries) != 0 {
		t.Fatal("disabled pass must not execute anything")
	}
}

func TestReconcileSettingsErrorNoAction(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{err: errors.New("settings store down")}, audit)

	w.Reconcile(context.Background())

	if len(dets.verified) != 0 || len(ords.paid) != 0 || len(audit.entries) != 0 {
		t.Fatal("unreadable policy must not allow autonomous action")
	}
}

func TestReconcileTestModeDryRunEveryPass(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	settings := fullAutoSettings()
	settings.TestMode = utils.NewTrue()
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: settings}, audit)

	w.Reconcile(context.Background())
	w.Reconcile(context.Background())

	if len(dets.verified) != 0 {
		t.Fatalf("dry-run must not verify, got %v", dets.verified)
	}
	if len(ords.paid) != 0 {
		t.Fatalf("dry-run must not mark paid, got %v", ords.paid)
	}
	dryRuns := audit.byStatus(models.LogStatusDryRun)
	if len(dryRuns) != 2 {
		t.Fatalf("expected one dry-run entry per pass, got %d", len(dryRuns))
	}
}

func TestReconcileExecutionFailureThenRetry(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}, markErr: errors.New("order backend unavailable")}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	failed := audit.byStatus(models.LogStatusFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one failed entry, got %d", len(failed))
	}
	if failed[0].ErrorMessage == nil || *failed[0].ErrorMessage == "" {
		t.Fatal("failed entry must carry an error message")
	}
	if len(dets.verified) != 0 {
		t.Fatalf("failed attempt must leave the detection pending, got %v", dets.verified)
	}

	// The backend recovers; a later pass retries the same detection because
	// the failed attempt released its claim.
	ords.markErr = nil
	w.Reconcile(context.Background())

	if got := dets.verified["det-1"]; got != "ord-1" {
		t.Fatalf("expected retry to succeed, got %q", got)
	}
	if len(audit.byStatus(models.LogStatusSuccess)) != 1 {
		t.Fatal("expected one success entry after retry")
	}
}

func TestReconcileGuardBlocksSecondPass(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	guard := NewMemoryGuard()
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit, WithGuard(guard))

	// Another holder already claimed this detection.
	if ok, _ := guard.Claim(context.Background(), "det-1"); !ok {
		t.Fatal("setup claim failed")
	}

	w.Reconcile(context.Background())

	if len(dets.verified) != 0 || len(audit.entries) != 0 {
		t.Fatal("claimed detection must be skipped")
	}
}

func TestReconcileSuccessKeepsGuardAgainstStaleRead(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	guard := NewMemoryGuard()
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit, WithGuard(guard))

	w.Reconcile(context.Background())

	// Simulate a stale replica still reporting the detection as pending.
	dets.mu.Lock()
	dets.pending = append(dets.pending, d)
	dets.mu.Unlock()

	w.Reconcile(context.Background())

	if len(audit.byStatus(models.LogStatusSuccess)) != 1 {
		t.Fatal("stale pending read must not produce a second execution")
	}
	if len(ords.paid) != 1 {
		t.Fatalf("expected single payment, got %v", ords.paid)
	}
}

func TestFetchAuthoritativeRetriesMissingInvoice(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	stale := o
	stale.InvoiceNumber = nil
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}, getSeq: []*models.Order{&stale, &o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	if ords.getCalls < 2 {
		t.Fatalf("expected a re-read of the order, got %d reads", ords.getCalls)
	}
	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 {
		t.Fatalf("expected success after re-read, got %d", len(success))
	}
	if success[0].InvoiceNumber == nil || *success[0].InvoiceNumber != "INV-001" {
		t.Fatal("expected the settled invoice number in the audit entry")
	}
}

func TestFetchAuthoritativeFallsBackToSnapshot(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	stale := o
	stale.InvoiceNumber = nil
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}, getSeq: []*models.Order{&stale}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 {
		t.Fatalf("expected success with snapshot fallback, got %d entries", len(success))
	}
	if success[0].InvoiceNumber == nil || *success[0].InvoiceNumber != "INV-001" {
		t.Fatal("expected snapshot invoice number to fill the audit entry")
	}
}

func TestReconcileGroupPaymentMarksAllOrders(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	groupId := "grp-1"
	o.PaymentGroupId = &groupId
	invoice2 := "INV-002"
	sibling := models.Order{
		ID:             "ord-2",
		InvoiceNumber:  &invoice2,
		FinalTotal:     100000,
		CustomerName:   "Siti Nurhaliza",
		UserId:         7,
		Status:         models.OrderStatusWaitingPayment,
		PaymentGroupId: &groupId,
		CreatedAt:      now.Add(-10 * time.Minute),
	}
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{
		candidates: []models.Order{o},
		groups:     map[string][]models.Order{groupId: {o, sibling}},
	}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	w.Reconcile(context.Background())

	if len(ords.paid) != 2 {
		t.Fatalf("expected both group orders paid, got %v", ords.paid)
	}
	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 {
		t.Fatalf("expected one success entry for the group, got %d", len(success))
	}
	entry := success[0]
	if entry.IsGroupPayment == nil || !*entry.IsGroupPayment {
		t.Fatal("expected group payment flag")
	}
	if len(entry.OrderIds) != 2 || len(entry.OrderDetails) != 2 {
		t.Fatalf("expected both orders in the entry, got ids=%v details=%d", entry.OrderIds, len(entry.OrderDetails))
	}
	if entry.Amount != 350000 {
		t.Fatalf("expected combined amount 350000, got %d", entry.Amount)
	}
}

func TestAuditEntriesCarryRawNotification(t *testing.T) {
	now := time.Now()

	// Success entry.
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)
	w.Reconcile(context.Background())

	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 || success[0].RawNotification != d.RawText {
		t.Fatalf("success entry must carry the notification text, got %+v", success)
	}

	// Dry-run entry.
	d2, o2 := strongPair(now)
	settings := fullAutoSettings()
	settings.TestMode = utils.NewTrue()
	audit2 := &fakeAudit{}
	w2 := newTestWorker(
		&fakeDetections{pending: []models.PaymentDetection{d2}},
		&fakeOrders{candidates: []models.Order{o2}},
		&fakeSettings{settings: settings}, audit2)
	w2.Reconcile(context.Background())

	dryRuns := audit2.byStatus(models.LogStatusDryRun)
	if len(dryRuns) != 1 || dryRuns[0].RawNotification != d2.RawText {
		t.Fatalf("dry-run entry must carry the notification text, got %+v", dryRuns)
	}

	// Failed entry.
	d3, o3 := strongPair(now)
	audit3 := &fakeAudit{}
	w3 := newTestWorker(
		&fakeDetections{pending: []models.PaymentDetection{d3}},
		&fakeOrders{candidates: []models.Order{o3}, markErr: errors.New("order backend unavailable")},
		&fakeSettings{settings: fullAutoSettings()}, audit3)
	w3.Reconcile(context.Background())

	failed := audit3.byStatus(models.LogStatusFailed)
	if len(failed) != 1 || failed[0].RawNotification != d3.RawText {
		t.Fatalf("failed entry must carry the notification text, got %+v", failed)
	}
}

func TestExecuteManual(t *testing.T) {
	now := time.Now()
	d, o := strongPair(now)
	dets := &fakeDetections{pending: []models.PaymentDetection{d}}
	ords := &fakeOrders{candidates: []models.Order{o}}
	audit := &fakeAudit{}
	// Semi-auto policy: the loop does nothing, the operator drives.
	settings := fullAutoSettings()
	settings.Mode = models.VerificationModeSemiAuto
	w := newTestWorker(dets, ords, &fakeSettings{settings: settings}, audit)

	result, err := w.ExecuteManual(context.Background(), "det-1", "ord-1", "admin")
	if err != nil {
		t.Fatalf("ExecuteManual: %v", err)
	}
	if result.ExecutedBy != "admin" {
		t.Fatalf("expected operator actor, got %q", result.ExecutedBy)
	}
	if got := dets.verified["det-1"]; got != "ord-1" {
		t.Fatalf("expected det-1 verified, got %q", got)
	}
	success := audit.byStatus(models.LogStatusSuccess)
	if len(success) != 1 || success[0].ExecutedBy != "admin" {
		t.Fatalf("expected one operator success entry, got %+v", success)
	}

	// A second attempt on the same detection must be rejected.
	if _, err := w.ExecuteManual(context.Background(), "det-1", "ord-1", "admin"); err == nil {
		t.Fatal("expected second manual attempt to fail")
	}
}

func TestNotifyCoalesces(t *testing.T) {
	dets := &fakeDetections{}
	ords := &fakeOrders{}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	for i := 0; i < 100; i++ {
		w.Notify()
	}
	if len(w.trigger) != 1 {
		t.Fatalf("expected trigger channel to hold one pending wakeup, got %d", len(w.trigger))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dets := &fakeDetections{}
	ords := &fakeOrders{}
	audit := &fakeAudit{}
	w := newTestWorker(dets, ords, &fakeSettings{settings: fullAutoSettings()}, audit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	w.Notify()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
