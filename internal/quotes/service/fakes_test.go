package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/brokers"
	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/split"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/logger"
)

// memStore mirrors the conditional updates of the Postgres repository.
type memStore struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]repository.Quote
	now    func() time.Time
}

func newMemStore() *memStore {
	return &memStore{quotes: map[uuid.UUID]repository.Quote{}, now: time.Now}
}

func (m *memStore) Create(_ context.Context, q *repository.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.ID] = *q
	return nil
}

func (m *memStore) GetByID(_ context.Context, id, brokerID uuid.UUID) (*repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.BrokerID != brokerID {
		return nil, apperr.NotFound("quote not found")
	}
	return &q, nil
}

func (m *memStore) Transition(_ context.Context, id, brokerID uuid.UUID, from []repository.Status, to repository.Status, patch repository.TransitionPatch) (*repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.BrokerID != brokerID || q.Locked || !in(q.Status, from) {
		return nil, repository.ErrStaleState
	}
	q.Status = to
	if q.SentAt == nil {
		q.SentAt = patch.SentAt
	}
	if q.ReadAt == nil {
		q.ReadAt = patch.ReadAt
	}
	if patch.AcceptedAt != nil {
		q.AcceptedAt = patch.AcceptedAt
	}
	if patch.AcceptedBy != nil {
		q.AcceptedBy = patch.AcceptedBy
	}
	if patch.RefusedAt != nil {
		q.RefusedAt = patch.RefusedAt
	}
	if patch.RefusedBy != nil {
		q.RefusedBy = patch.RefusedBy
	}
	if patch.RefusalReason != nil {
		q.RefusalReason = patch.RefusalReason
	}
	m.quotes[id] = q
	return &q, nil
}

func (m *memStore) UpdatePricing(_ context.Context, upd *repository.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[upd.ID]
	if !ok || q.BrokerID != upd.BrokerID || q.Locked || q.Status != repository.StatusGenerated {
		return repository.ErrStaleState
	}
	m.quotes[upd.ID] = *upd
	return nil
}

func (m *memStore) ClaimPush(_ context.Context, id, brokerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.BrokerID != brokerID || q.Locked || q.Status != repository.StatusAccepted {
		return false, nil
	}
	if q.PushClaimedAt != nil || q.PushUnverified {
		return false, nil
	}
	now := m.now()
	q.PushClaimedAt = &now
	m.quotes[id] = q
	return true, nil
}

func (m *memStore) ClaimVerification(_ context.Context, id, brokerID uuid.UUID, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.BrokerID != brokerID || q.Locked || q.Status != repository.StatusAccepted || !q.PushUnverified {
		return false, nil
	}
	now := m.now()
	if q.PushClaimedAt != nil && q.PushClaimedAt.After(now.Add(-lease)) {
		return false, nil
	}
	q.PushClaimedAt = &now
	m.quotes[id] = q
	return true, nil
}

func (m *memStore) MarkPushUnverified(_ context.Context, id, brokerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if ok && q.BrokerID == brokerID && !q.Locked {
		q.PushClaimedAt = nil
		q.PushUnverified = true
		m.quotes[id] = q
	}
	return nil
}

func (m *memStore) ReleasePush(_ context.Context, id, brokerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if ok && q.BrokerID == brokerID && !q.Locked {
		q.PushClaimedAt = nil
		q.PushUnverified = false
		m.quotes[id] = q
	}
	return nil
}

func (m *memStore) CompletePush(_ context.Context, id, brokerID uuid.UUID, simulationID string, pushedAt time.Time) (*repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.BrokerID != brokerID || q.Locked || q.Status != repository.StatusAccepted {
		return nil, repository.ErrStaleState
	}
	q.Status = repository.StatusLocked
	q.Locked = true
	q.SimulationID = &simulationID
	q.PushedAt = &pushedAt
	q.PushClaimedAt = nil
	q.PushUnverified = false
	m.quotes[id] = q
	return &q, nil
}

// fakeQuoter answers with a configurable function and counts calls per endpoint.
type fakeQuoter struct {
	mu          sync.Mutex
	staging     int
	production  int
	lastOptions client.Options
	respond     func(opts client.Options) (*client.Result, error)
}

func (f *fakeQuoter) Quote(_ context.Context, _ wire.Profile, _ client.Credentials, opts client.Options) (*client.Result, error) {
	f.mu.Lock()
	if opts.UseProduction {
		f.production++
	} else {
		f.staging++
	}
	f.lastOptions = opts
	respond := f.respond
	f.mu.Unlock()
	return respond(opts)
}

func (f *fakeQuoter) productionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.production
}

func answer(simulationID string, tariffs ...wire.Tariff) *client.Result {
	return &client.Result{
		Response:     &wire.Response{SimulationID: simulationID, Tariffs: tariffs},
		Endpoint:     "https://provider.test/tarifer",
		RequestBody:  []byte("<req/>"),
		ResponseBody: []byte("<resp/>"),
	}
}

type fakeProfiles struct{}

func (fakeProfiles) GetProfile(_ context.Context, _, _ uuid.UUID) (wire.Profile, error) {
	return wire.Profile{}, nil
}

type fakeBrokers struct {
	cfg brokers.PricingConfig
}

func (f fakeBrokers) GetPricingConfig(_ context.Context, brokerID uuid.UUID) (brokers.PricingConfig, error) {
	cfg := f.cfg
	cfg.BrokerID = brokerID
	return cfg, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event.EventName())
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

type recordingArchive struct {
	mu        sync.Mutex
	exchanges []Exchange
}

func (a *recordingArchive) ArchiveExchange(_ context.Context, ex Exchange) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges = append(a.exchanges, ex)
	return nil
}

type recordingVerifier struct {
	mu     sync.Mutex
	quotes []uuid.UUID
}

func (v *recordingVerifier) SchedulePushVerification(_ context.Context, _, quoteID uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes = append(v.quotes, quoteID)
	return nil
}

type harness struct {
	svc      *Service
	store    *memStore
	quoter   *fakeQuoter
	bus      *recordingBus
	archive  *recordingArchive
	verifier *recordingVerifier
	brokerID uuid.UUID
}

func newHarness(respond func(opts client.Options) (*client.Result, error)) *harness {
	cat, err := catalog.Default()
	if err != nil {
		panic(err)
	}
	h := &harness{
		store:    newMemStore(),
		quoter:   &fakeQuoter{respond: respond},
		bus:      &recordingBus{},
		archive:  &recordingArchive{},
		verifier: &recordingVerifier{},
		brokerID: uuid.New(),
	}
	h.svc = New(Deps{
		Store:    h.store,
		Quoter:   h.quoter,
		Profiles: fakeProfiles{},
		Brokers: fakeBrokers{cfg: brokers.PricingConfig{
			PartnerCode:         "PARTNER",
			LicenceKey:          "KEY",
			Enabled:             true,
			DefaultApporteurPct: decimal.NewFromInt(10),
			Plan:                split.PlanPremium,
		}},
		Catalog:  cat,
		Bus:      h.bus,
		Archive:  h.archive,
		Verifier: h.verifier,
		Log:      logger.Discard(),
	})
	return h
}

func (h *harness) generate(tariff wire.Tariff) *repository.Quote {
	q, err := h.svc.Generate(context.Background(), GenerateParams{
		BrokerID:       h.brokerID,
		DossierID:      uuid.New(),
		Actor:          "broker@test",
		InsurerID:      "axa",
		CommissionCode: "AXA-C10",
		CommissionRate: decimal.NewFromInt(10),
		Tariff:         tariff,
		Split:          split.Split{BrokerFeeMinor: 15000, BrokerNetMinor: 15000},
	})
	if err != nil {
		panic(err)
	}
	return q
}

func (h *harness) accepted(tariff wire.Tariff) *repository.Quote {
	ctx := context.Background()
	q := h.generate(tariff)
	if _, err := h.svc.MarkSent(ctx, h.brokerID, q.ID, "broker@test"); err != nil {
		panic(err)
	}
	q, err := h.svc.Accept(ctx, h.brokerID, q.ID, "client@test")
	if err != nil {
		panic(err)
	}
	return q
}

// unverified returns an accepted quote whose last push outcome is unknown.
func (h *harness) unverified(tariff wire.Tariff) *repository.Quote {
	q := h.accepted(tariff)
	if err := h.store.MarkPushUnverified(context.Background(), q.ID, h.brokerID); err != nil {
		panic(err)
	}
	return q
}
