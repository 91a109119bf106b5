package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
)

// --- engine stubs ---

type stubPool struct {
	ref      string
	failWith error
	moved    bool
}

func (p *stubPool) Ref() domain.VaultRef { return domain.VaultRef(p.ref) }

func (p *stubPool) TransferAllToCounterpart() error {
	if p.failWith != nil {
		return p.failWith
	}
	p.moved = true
	return nil
}

type stubPoolFactory struct {
	transferErr error
	pools       []*stubPool
}

func (f *stubPoolFactory) CreatePair(id domain.MarketID) (engine.AssetPool, engine.AssetPool, error) {
	risk := &stubPool{ref: fmt.Sprintf("risk-%d", id), failWith: f.transferErr}
	hedge := &stubPool{ref: fmt.Sprintf("hedge-%d", id), failWith: f.transferErr}
	f.pools = append(f.pools, risk, hedge)
	return risk, hedge, nil
}

type stubVerifier struct {
	payload domain.AttestationPayload
	err     error
}

func (v *stubVerifier) Verify([]byte) (domain.AttestationPayload, error) {
	if v.err != nil {
		return domain.AttestationPayload{}, v.err
	}
	return v.payload, nil
}

// --- infrastructure stubs ---

type memMarketStore struct {
	mu      sync.Mutex
	markets map[domain.MarketID]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: map[domain.MarketID]domain.Market{}}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id domain.MarketID) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) ListByState(_ context.Context, state domain.MarketState, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type memAttestationStore struct {
	mu   sync.Mutex
	recs []domain.Attestation
}

func (s *memAttestationStore) Insert(_ context.Context, rec domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memAttestationStore) ListByMarket(_ context.Context, id domain.MarketID, _ domain.ListOpts) ([]domain.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attestation
	for _, r := range s.recs {
		if r.MarketID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memAttestationStore) CountDegraded(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.recs {
		if r.Degraded {
			n++
		}
	}
	return n, nil
}

type captureBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newCaptureBus() *captureBus {
	return &captureBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *captureBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

type memArchiver struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemArchiver() *memArchiver { return &memArchiver{blobs: map[string][]byte{}} }

func (a *memArchiver) ArchiveProof(_ context.Context, id domain.MarketID, submittedAt int64, blobHash string, blob []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[fmt.Sprintf("%d/%d-%s", id, submittedAt, blobHash)] = blob
	return nil
}

func (a *memArchiver) FetchProof(_ context.Context, id domain.MarketID, blobHash string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	suffix := "-" + blobHash
	prefix := fmt.Sprintf("%d/", id)
	for key, blob := range a.blobs {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			return blob, nil
		}
	}
	return nil, fmt.Errorf("proof %s for market %d: %w", blobHash, id, domain.ErrNotFound)
}

type captureAlerts struct {
	mu         sync.Mutex
	events     []string
	degradedID []domain.MarketID
}

func (a *captureAlerts) MarketTransition(_ context.Context, event string, _ domain.Market) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *captureAlerts) TransferDegraded(_ context.Context, id domain.MarketID, _ error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.degradedID = append(a.degradedID, id)
	return nil
}

// --- harness ---

const (
	testLat domain.Coordinate = 35676200
	testLon domain.Coordinate = 139650300
)

type harness struct {
	svc      *MarketService
	now      int64
	pools    *stubPoolFactory
	verifier *stubVerifier
	store    *memMarketStore
	atts     *memAttestationStore
	bus      *captureBus
	archiver *memArchiver
	alerts   *captureAlerts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:      1000,
		pools:    &stubPoolFactory{},
		verifier: &stubVerifier{},
		store:    newMemMarketStore(),
		atts:     &memAttestationStore{},
		bus:      newCaptureBus(),
		archiver: newMemArchiver(),
		alerts:   &captureAlerts{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(h.pools, h.verifier, func() time.Time { return time.Unix(h.now, 0) }, logger)
	h.svc = NewMarketService(eng, h.store, h.atts, nil, h.bus, h.archiver, h.alerts, logger)
	return h
}

func (h *harness) createLocked(t *testing.T) domain.Market {
	t.Helper()
	ctx := context.Background()
	m, err := h.svc.CreateMarket(ctx, 2000, 3000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	h.now = 2000
	m, err = h.svc.LockMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	return m
}

// --- tests ---

func TestCreateMarketMirrorsAndAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.CreateMarket(ctx, 2000, 3000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	stored, err := h.store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("store missing market: %v", err)
	}
	if stored.State != domain.StateOpen {
		t.Fatalf("stored state = %s", stored.State)
	}

	if n := len(h.bus.published[domain.ChannelMarketState]); n != 1 {
		t.Fatalf("state channel publishes = %d, want 1", n)
	}
	if n := len(h.bus.streamed[domain.StreamTransitions]); n != 1 {
		t.Fatalf("stream appends = %d, want 1", n)
	}
	if len(h.alerts.events) != 1 || h.alerts.events[0] != domain.EventMarketCreated {
		t.Fatalf("alert events = %v", h.alerts.events)
	}
}

func TestSubmitProofLiquidatesAndRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createLocked(t)

	h.now = 2500
	h.verifier.payload = domain.AttestationPayload{Latitude: testLat, Longitude: testLon, FireFlag: 1}

	out, err := h.svc.SubmitOracleProof(ctx, m.ID, []byte{0xAA})
	if err != nil {
		t.Fatalf("SubmitOracleProof: %v", err)
	}
	if out.Result != domain.AdjudicationLiquidated {
		t.Fatalf("result = %s", out.Result)
	}

	stored, err := h.store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if stored.State != domain.StateLiquidated || !stored.HasLiquidated {
		t.Fatalf("stored = %+v", stored)
	}

	recs, err := h.svc.ListAttestations(ctx, m.ID, domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListAttestations: %v", err)
	}
	if len(recs) != 1 || recs[0].Result != domain.AdjudicationLiquidated {
		t.Fatalf("attestations = %+v", recs)
	}
	if recs[0].ID == "" || recs[0].BlobHash == "" {
		t.Fatalf("attestation missing id or hash: %+v", recs[0])
	}

	if len(h.archiver.blobs) != 1 {
		t.Fatalf("archived blobs = %d, want 1", len(h.archiver.blobs))
	}
	if h.alerts.events[len(h.alerts.events)-1] != domain.EventMarketLiquidated {
		t.Fatalf("alert events = %v", h.alerts.events)
	}
}

func TestStoreBackedListAndCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	locked := h.createLocked(t)
	open, err := h.svc.CreateMarket(ctx, 3000, 4000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	got, err := h.svc.ListMarketsByState(ctx, domain.StateLocked, domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListMarketsByState: %v", err)
	}
	if len(got) != 1 || got[0].ID != locked.ID {
		t.Fatalf("locked markets = %+v", got)
	}

	n, err := h.svc.PersistedCount(ctx)
	if err != nil {
		t.Fatalf("PersistedCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("persisted = %d, want 2 (markets %d and %d)", n, locked.ID, open.ID)
	}
}

func TestFetchProofBlobRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createLocked(t)

	h.now = 2500
	h.verifier.payload = domain.AttestationPayload{Latitude: testLat, Longitude: testLon, FireFlag: 1}

	blob := []byte{0xAA, 0xBB, 0xCC}
	if _, err := h.svc.SubmitOracleProof(ctx, m.ID, blob); err != nil {
		t.Fatalf("SubmitOracleProof: %v", err)
	}

	recs, err := h.svc.ListAttestations(ctx, m.ID, domain.ListOpts{Limit: 1})
	if err != nil || len(recs) != 1 {
		t.Fatalf("attestations = %+v, err = %v", recs, err)
	}

	got, err := h.svc.FetchProofBlob(ctx, m.ID, recs[0].BlobHash)
	if err != nil {
		t.Fatalf("FetchProofBlob: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("blob = %x, want %x", got, blob)
	}

	if _, err := h.svc.FetchProofBlob(ctx, m.ID, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown hash err = %v", err)
	}
}

func TestSubmitRejectedProofStillRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createLocked(t)

	h.verifier.err = fmt.Errorf("short blob: %w", domain.ErrInvalidOracleData)

	_, err := h.svc.SubmitOracleProof(ctx, m.ID, []byte{0x01})
	if !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("err = %v", err)
	}

	recs, _ := h.svc.ListAttestations(ctx, m.ID, domain.ListOpts{Limit: 10})
	if len(recs) != 1 || recs[0].Result != domain.AdjudicationRejected || recs[0].Error == "" {
		t.Fatalf("attestations = %+v", recs)
	}
	if len(h.archiver.blobs) != 1 {
		t.Fatalf("rejected blob not archived")
	}

	stored, _ := h.store.GetByID(ctx, m.ID)
	if stored.State != domain.StateLocked {
		t.Fatalf("rejected proof mutated market: %+v", stored)
	}
}

func TestDegradedTransferAlertsOutOfBand(t *testing.T) {
	h := newHarness(t)
	h.pools.transferErr = errors.New("pool unreachable")
	ctx := context.Background()
	m := h.createLocked(t)

	h.now = 2500
	h.verifier.payload = domain.AttestationPayload{Latitude: testLat, Longitude: testLon, FireFlag: 1}

	out, err := h.svc.SubmitOracleProof(ctx, m.ID, []byte{0xAA})
	if err != nil {
		t.Fatalf("SubmitOracleProof: %v", err)
	}
	if !out.TransferDegraded {
		t.Fatal("expected degraded transfer")
	}
	if out.Market.State != domain.StateLiquidated {
		t.Fatalf("degraded transfer unwound the transition: %s", out.Market.State)
	}

	if n := len(h.bus.published[domain.ChannelDegraded]); n != 1 {
		t.Fatalf("degraded channel publishes = %d, want 1", n)
	}
	if len(h.alerts.degradedID) != 1 || h.alerts.degradedID[0] != m.ID {
		t.Fatalf("degraded alerts = %v", h.alerts.degradedID)
	}

	n, err := h.svc.DegradedCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DegradedCount = %d, %v", n, err)
	}
}

func TestMatureMarketViaService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createLocked(t)

	h.now = 3001
	out, err := h.svc.MatureMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("MatureMarket: %v", err)
	}
	if out.Result != domain.AdjudicationMatured {
		t.Fatalf("result = %s", out.Result)
	}

	stored, _ := h.store.GetByID(ctx, m.ID)
	if stored.State != domain.StateMatured {
		t.Fatalf("stored = %+v", stored)
	}
	if h.alerts.events[len(h.alerts.events)-1] != domain.EventMarketMatured {
		t.Fatalf("alert events = %v", h.alerts.events)
	}
}

func TestGetMarketFallsBackToRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.CreateMarket(ctx, 2000, 3000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	got, err := h.svc.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.ID != m.ID {
		t.Fatalf("got %+v", got)
	}

	if _, err := h.svc.GetMarket(ctx, 999); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Fatalf("unknown id err = %v", err)
	}
}

func TestRegistryReadsViaService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.CreateMarket(ctx, 2000, 3000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if st := h.svc.GetState(ctx, m.ID); st != domain.StateOpen {
		t.Fatalf("state = %s", st)
	}
	if st := h.svc.GetState(ctx, 999); st != domain.StateNotSet {
		t.Fatalf("unknown id state = %s", st)
	}

	pair, err := h.svc.GetVaults(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetVaults: %v", err)
	}
	if pair.Risk != m.RiskVault || pair.Hedge != m.HedgeVault {
		t.Fatalf("pair = %+v, market = %+v", pair, m)
	}

	liquidated, at, err := h.svc.GetLiquidation(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetLiquidation: %v", err)
	}
	if liquidated || at != 0 {
		t.Fatalf("liquidated = %v at %d", liquidated, at)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m1, _ := h.svc.CreateMarket(ctx, 2000, 3000, testLat, testLon)
	m2, _ := h.svc.CreateMarket(ctx, 2000, 3000, testLat+1, testLon+1)
	h.now = 2000
	if _, err := h.svc.LockMarket(ctx, m2.ID); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}

	// Fresh engine fed from the same store.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng2 := engine.New(&stubPoolFactory{}, h.verifier, func() time.Time { return time.Unix(h.now, 0) }, logger)
	svc2 := NewMarketService(eng2, h.store, h.atts, nil, h.bus, h.archiver, h.alerts, logger)

	if err := svc2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	markets := svc2.ListMarkets(ctx)
	if len(markets) != 2 {
		t.Fatalf("restored %d markets", len(markets))
	}
	if got, _ := svc2.GetMarket(ctx, m1.ID); got.State != domain.StateOpen {
		t.Fatalf("m1 state = %s", got.State)
	}
	if got, _ := svc2.GetMarket(ctx, m2.ID); got.State != domain.StateLocked {
		t.Fatalf("m2 state = %s", got.State)
	}

	// A new market gets the next id after the restored maximum.
	m3, err := svc2.CreateMarket(ctx, 4000, 5000, testLat, testLon)
	if err != nil {
		t.Fatalf("CreateMarket after restore: %v", err)
	}
	if m3.ID != m2.ID+1 {
		t.Fatalf("next id = %d, want %d", m3.ID, m2.ID+1)
	}
}
