package service

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
)

var axaTariff = wire.Tariff{ID: "2", Insurer: "AXA", Product: "Emprunteur", TotalCostMinor: 4800, MonthlyMinor: 20}

func productionOK(opts client.Options) (*client.Result, error) {
	return answer("SIM-42", wire.Tariff{ID: opts.TargetTariffID, TotalCostMinor: 4800}), nil
}

func TestHappyPathEndsLockedWithSimulationID(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()

	q := h.generate(axaTariff)
	if q.Status != repository.StatusGenerated {
		t.Fatalf("expected generated, got %s", q.Status)
	}
	if _, err := h.svc.MarkSent(ctx, h.brokerID, q.ID, "broker"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.svc.MarkRead(ctx, h.brokerID, q.ID, "client"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := h.svc.Accept(ctx, h.brokerID, q.ID, "client"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	locked, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !locked.Locked || locked.Status != repository.StatusLocked {
		t.Fatalf("expected locked quote, got %+v", locked)
	}
	if locked.SimulationID == nil || *locked.SimulationID != "SIM-42" {
		t.Fatalf("unexpected simulation id %v", locked.SimulationID)
	}
	if opts := h.quoter.lastOptions; opts.TargetTariffID != "2" || opts.CommissionCode != "AXA-C10" || *opts.BrokerFeeMinor != 15000 {
		t.Fatalf("unexpected production options %+v", opts)
	}
	if len(h.archive.exchanges) != 1 || h.archive.exchanges[0].Purpose != purposeProductionPush {
		t.Fatalf("expected one archived exchange, got %+v", h.archive.exchanges)
	}

	want := []string{
		events.QuoteGeneratedName, events.QuoteSentName, events.QuoteReadName,
		events.QuoteAcceptedName, events.QuotePushedName,
	}
	got := h.bus.names()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestGenerateRequiresTariffAndCode(t *testing.T) {
	h := newHarness(productionOK)
	_, err := h.svc.Generate(context.Background(), GenerateParams{BrokerID: h.brokerID, CommissionCode: "AXA-C10"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkReadFromGeneratedBackfillsSentAt(t *testing.T) {
	h := newHarness(productionOK)
	q := h.generate(axaTariff)

	read, err := h.svc.MarkRead(context.Background(), h.brokerID, q.ID, "client")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.Status != repository.StatusRead || read.SentAt == nil || read.ReadAt == nil {
		t.Fatalf("expected read with both timestamps, got %+v", read)
	}
}

func TestMarkSentAfterReadIsNoop(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()
	q := h.generate(axaTariff)
	if _, err := h.svc.MarkRead(ctx, h.brokerID, q.ID, "client"); err != nil {
		t.Fatalf("read: %v", err)
	}

	sent, err := h.svc.MarkSent(ctx, h.brokerID, q.ID, "broker")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != repository.StatusRead {
		t.Fatalf("expected status to stay read, got %s", sent.Status)
	}
	for _, name := range h.bus.names() {
		if name == events.QuoteSentName {
			t.Fatal("no-op send must not publish quote.sent")
		}
	}
}

func TestMarkSentOnTerminalIsNoop(t *testing.T) {
	h := newHarness(productionOK)
	q := h.accepted(axaTariff)

	got, err := h.svc.MarkSent(context.Background(), h.brokerID, q.ID, "broker")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Status != repository.StatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
}

func TestAcceptRequiresSentOrRead(t *testing.T) {
	h := newHarness(productionOK)
	q := h.generate(axaTariff)

	_, err := h.svc.Accept(context.Background(), h.brokerID, q.ID, "client")
	if !errors.Is(err, ErrIllegalTransition) || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected illegal transition conflict, got %v", err)
	}
}

func TestRefuseRequiresReason(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()
	q := h.generate(axaTariff)
	if _, err := h.svc.MarkSent(ctx, h.brokerID, q.ID, "broker"); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := h.svc.Refuse(ctx, h.brokerID, q.ID, "client", "   ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if current.Status != repository.StatusSent {
		t.Fatalf("status must not change, got %s", current.Status)
	}

	reason := "  Taux trop élevé  "
	refused, err := h.svc.Refuse(ctx, h.brokerID, q.ID, "client", reason)
	if err != nil {
		t.Fatalf("refuse: %v", err)
	}
	if refused.Status != repository.StatusRefused || *refused.RefusalReason != reason {
		t.Fatalf("expected verbatim reason, got %+v", refused)
	}

	if _, err := h.svc.Accept(ctx, h.brokerID, q.ID, "client"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("refused quote cannot be accepted, got %v", err)
	}
}

func TestPushRequiresAccepted(t *testing.T) {
	h := newHarness(productionOK)
	q := h.generate(axaTariff)

	_, err := h.svc.PushToProduction(context.Background(), h.brokerID, q.ID, "broker")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if h.quoter.productionCalls() != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestPushOnLockedQuoteDoesNotCallProvider(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()
	q := h.accepted(axaTariff)
	if _, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker"); err != nil {
		t.Fatalf("push: %v", err)
	}

	_, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker")
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected already locked, got %v", err)
	}
	if calls := h.quoter.productionCalls(); calls != 1 {
		t.Fatalf("expected a single production call, got %d", calls)
	}
}

func TestConcurrentPushSucceedsExactlyOnce(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		<-release
		return productionOK(opts)
	})
	q := h.accepted(axaTariff)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		locked    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.PushToProduction(context.Background(), h.brokerID, q.ID, "broker")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyLocked):
				locked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	// Let the losers hit the claim before the winner's call returns.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if successes != 1 || locked != callers-1 {
		t.Fatalf("expected 1 success and %d already locked, got %d/%d", callers-1, successes, locked)
	}
	if calls := h.quoter.productionCalls(); calls != 1 {
		t.Fatalf("expected exactly one production call, got %d", calls)
	}
}

func TestFailedPushReleasesClaimForRetry(t *testing.T) {
	fail := true
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		if fail {
			return nil, &client.PricingError{Kind: client.KindProviderRejected, Status: 500, Err: errors.New("boom")}
		}
		return productionOK(opts)
	})
	ctx := context.Background()
	q := h.accepted(axaTariff)

	_, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker")
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if current.Status != repository.StatusAccepted || current.Locked || current.PushClaimedAt != nil {
		t.Fatalf("failed push must leave an accepted, unclaimed quote: %+v", current)
	}
	if len(h.verifier.quotes) != 0 {
		t.Fatal("a rejected push is not ambiguous and must not be verified later")
	}

	fail = false
	if _, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestTransportFailureSchedulesVerification(t *testing.T) {
	h := newHarness(func(client.Options) (*client.Result, error) {
		return nil, &client.PricingError{Kind: client.KindTransport, Err: &net.OpError{Op: "read", Err: errors.New("timeout")}}
	})
	q := h.accepted(axaTariff)

	_, err := h.svc.PushToProduction(context.Background(), h.brokerID, q.ID, "broker")
	if !client.IsTransport(err) {
		t.Fatalf("expected transport error in chain, got %v", err)
	}
	if len(h.verifier.quotes) != 1 || h.verifier.quotes[0] != q.ID {
		t.Fatalf("expected verification scheduled for %s, got %v", q.ID, h.verifier.quotes)
	}
}

func TestRepushWhileOutcomeUnknownIsRefused(t *testing.T) {
	down := true
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		if down {
			return nil, &client.PricingError{Kind: client.KindTransport, Err: &net.OpError{Op: "read", Err: errors.New("timeout")}}
		}
		return productionOK(opts)
	})
	ctx := context.Background()
	q := h.accepted(axaTariff)

	if _, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker"); !client.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if !current.PushUnverified || current.PushClaimedAt != nil {
		t.Fatalf("expected an unverified, unclaimed quote: %+v", current)
	}

	down = false
	_, err := h.svc.PushToProduction(ctx, h.brokerID, q.ID, "broker")
	if !errors.Is(err, ErrAlreadyLocked) || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected push refused while verifying, got %v", err)
	}
	if calls := h.quoter.productionCalls(); calls != 1 {
		t.Fatalf("expected a single production call, got %d", calls)
	}

	if err := h.svc.VerifyAndPush(ctx, h.brokerID, q.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	current, _ = h.svc.Get(ctx, h.brokerID, q.ID)
	if !current.Locked || current.PushUnverified {
		t.Fatalf("expected verification to lock the quote: %+v", current)
	}
	if calls := h.quoter.productionCalls(); calls != 2 {
		t.Fatalf("expected the verification push only, got %d production calls", calls)
	}
}

func TestVerificationTransportFailureKeepsQuoteUnverified(t *testing.T) {
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		if opts.UseProduction {
			return nil, &client.PricingError{Kind: client.KindTransport, Err: errors.New("reset")}
		}
		return productionOK(opts)
	})
	ctx := context.Background()
	q := h.unverified(axaTariff)

	if err := h.svc.VerifyAndPush(ctx, h.brokerID, q.ID); !client.IsTransport(err) {
		t.Fatalf("expected transport error for a retry, got %v", err)
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if !current.PushUnverified || current.PushClaimedAt != nil || current.Locked {
		t.Fatalf("expected an unverified, unclaimed quote: %+v", current)
	}
	if len(h.verifier.quotes) != 0 {
		t.Fatal("a failed verification is retried by its task, not rescheduled")
	}
}

func TestPushWithoutSimulationIDFails(t *testing.T) {
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		return answer("", wire.Tariff{ID: opts.TargetTariffID, TotalCostMinor: 4800}), nil
	})
	q := h.accepted(axaTariff)

	_, err := h.svc.PushToProduction(context.Background(), h.brokerID, q.ID, "broker")
	if client.KindOf(err) != client.KindProviderRejected {
		t.Fatalf("expected provider rejected, got %v", err)
	}
	current, _ := h.svc.Get(context.Background(), h.brokerID, q.ID)
	if current.Locked {
		t.Fatal("quote must stay unlocked")
	}
}

func TestVerifyAndPushRefusesChangedTariff(t *testing.T) {
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		return answer("SIM-1", wire.Tariff{ID: opts.TargetTariffID, TotalCostMinor: 5100}), nil
	})
	ctx := context.Background()
	q := h.unverified(axaTariff)

	err := h.svc.VerifyAndPush(ctx, h.brokerID, q.ID)
	if !errors.Is(err, ErrTariffChanged) || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected tariff changed conflict, got %v", err)
	}
	if h.quoter.productionCalls() != 0 {
		t.Fatal("changed tariff must not be pushed")
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if current.PushUnverified || current.PushClaimedAt != nil {
		t.Fatalf("a settled verification must hand the quote back to the broker: %+v", current)
	}
}

func TestVerifyAndPushLocksUnchangedTariff(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()
	q := h.unverified(axaTariff)

	if err := h.svc.VerifyAndPush(ctx, h.brokerID, q.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	current, _ := h.svc.Get(ctx, h.brokerID, q.ID)
	if !current.Locked {
		t.Fatal("expected quote locked")
	}
	if err := h.svc.VerifyAndPush(ctx, h.brokerID, q.ID); err != nil {
		t.Fatalf("verifying a locked quote must be a no-op, got %v", err)
	}
}

func TestVerifyAndPushIgnoresSettledQuote(t *testing.T) {
	h := newHarness(productionOK)
	q := h.accepted(axaTariff)

	if err := h.svc.VerifyAndPush(context.Background(), h.brokerID, q.ID); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if h.quoter.staging != 0 || h.quoter.productionCalls() != 0 {
		t.Fatal("a quote without a pending verification must not reach the provider")
	}
}

func TestRepriceUpdatesGeneratedQuote(t *testing.T) {
	h := newHarness(func(opts client.Options) (*client.Result, error) {
		return answer("SIM-7", wire.Tariff{ID: opts.TargetTariffID, Product: "Emprunteur+", TotalCostMinor: 5300, MonthlyMinor: 22}), nil
	})
	ctx := context.Background()
	q := h.generate(axaTariff)

	fee := int64(20000)
	updated, err := h.svc.Reprice(ctx, h.brokerID, q.ID, RepriceParams{CommissionCode: "AXA-C20", BrokerFeeMinor: &fee})
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if updated.CommissionCode != "AXA-C20" || updated.TotalCostMinor != 5300 || updated.BrokerFeeMinor != 20000 {
		t.Fatalf("unexpected repriced quote %+v", updated)
	}
	// Premium plan without apporteur keeps 4% for the platform.
	if updated.PlatformAmountMinor != 800 || updated.BrokerNetMinor != 19200 {
		t.Fatalf("unexpected split %+v", updated)
	}
	if opts := h.quoter.lastOptions; opts.UseProduction || opts.TargetTariffID != "2" {
		t.Fatalf("reprice must refresh on staging by tariff id, got %+v", opts)
	}
}

func TestRepriceRejectsForeignCommissionCode(t *testing.T) {
	h := newHarness(productionOK)
	q := h.generate(axaTariff)

	_, err := h.svc.Reprice(context.Background(), h.brokerID, q.ID, RepriceParams{CommissionCode: "CAR-P12"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRepriceAfterSendIsIllegal(t *testing.T) {
	h := newHarness(productionOK)
	ctx := context.Background()
	q := h.generate(axaTariff)
	if _, err := h.svc.MarkSent(ctx, h.brokerID, q.ID, "broker"); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := h.svc.Reprice(ctx, h.brokerID, q.ID, RepriceParams{})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
}

func TestQuotesAreScopedToBroker(t *testing.T) {
	h := newHarness(productionOK)
	q := h.generate(axaTariff)

	_, err := h.svc.Get(context.Background(), uuid.New(), q.ID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for another broker, got %v", err)
	}
}
