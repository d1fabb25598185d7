package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buyinggroup-monitor/internal/config"
	"buyinggroup-monitor/internal/models"
)

var (
	_ DealStore     = (*mockStore)(nil)
	_ DealNotifier  = (*mockNotifier)(nil)
	_ SiteClient    = (*mockSite)(nil)
	_ DealExtractor = (*mockExtractor)(nil)
)

type mockStore struct {
	deals         map[string]*models.Deal
	notifications map[string]bool
	getErr        error
	upsertErr     error
}

func newMockStore() *mockStore {
	return &mockStore{
		deals:         make(map[string]*models.Deal),
		notifications: make(map[string]bool),
	}
}

func notificationKey(key string, kind models.NotificationKind) string {
	return string(kind) + ":" + key
}

func (m *mockStore) GetDeal(_ context.Context, id string) (*models.Deal, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	deal, ok := m.deals[id]
	if !ok {
		return nil, nil
	}
	cp := *deal
	return &cp, nil
}

func (m *mockStore) UpsertDeal(_ context.Context, deal *models.Deal) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	_, existed := m.deals[deal.ID]
	cp := *deal
	m.deals[deal.ID] = &cp
	return !existed, nil
}

func (m *mockStore) ListDeals(_ context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	for _, d := range m.deals {
		deals = append(deals, *d)
	}
	return deals, nil
}

func (m *mockStore) ListActiveDeals(_ context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	for _, d := range m.deals {
		if d.CurrentQuantity > 0 {
			deals = append(deals, *d)
		}
	}
	return deals, nil
}

func (m *mockStore) Stats(_ context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{TotalDeals: len(m.deals), CommittedValue: decimal.Zero}
	for _, d := range m.deals {
		if d.CurrentQuantity > 0 {
			stats.ActiveDeals++
		}
	}
	return stats, nil
}

func (m *mockStore) NotificationSeen(_ context.Context, key string, kind models.NotificationKind) (bool, error) {
	return m.notifications[notificationKey(key, kind)], nil
}

func (m *mockStore) MarkNotificationSent(_ context.Context, key string, kind models.NotificationKind) error {
	m.notifications[notificationKey(key, kind)] = true
	return nil
}

// batchMarks counts recorded notifications of the batch kind.
func (m *mockStore) batchMarks() int {
	count := 0
	for key := range m.notifications {
		if strings.HasPrefix(key, string(models.KindBatch)+":") {
			count++
		}
	}
	return count
}

type mockNotifier struct {
	batches           [][]models.Deal
	quantityUpdates   []string
	commitmentUpdates []string
	errorsSent        []string
	startups          int
	summaries         int
	newDealsErr       error
}

func (m *mockNotifier) SendNewDeals(_ context.Context, deals []models.Deal) error {
	m.batches = append(m.batches, deals)
	return m.newDealsErr
}

func (m *mockNotifier) SendQuantityUpdate(_ context.Context, deal models.Deal, oldQty, newQty int) error {
	m.quantityUpdates = append(m.quantityUpdates, fmt.Sprintf("%s:%d->%d", deal.Title, oldQty, newQty))
	return nil
}

func (m *mockNotifier) SendCommitmentUpdate(_ context.Context, deal models.Deal, oldVal, newVal int) error {
	m.commitmentUpdates = append(m.commitmentUpdates, fmt.Sprintf("%s:%d->%d", deal.Title, oldVal, newVal))
	return nil
}

func (m *mockNotifier) SendError(_ context.Context, message string) error {
	m.errorsSent = append(m.errorsSent, message)
	return nil
}

func (m *mockNotifier) SendStartup(_ context.Context, _ time.Duration, _ bool, _ int) error {
	m.startups++
	return nil
}

func (m *mockNotifier) SendSummary(_ context.Context, _ []models.Deal) error {
	m.summaries++
	return nil
}

type commitCall struct {
	url string
	qty int
}

type mockSite struct {
	html     string
	fetchErr error
	commits  []commitCall
}

func (m *mockSite) FetchDashboard(_ context.Context) (string, error) {
	if m.fetchErr != nil {
		return "", m.fetchErr
	}
	return m.html, nil
}

func (m *mockSite) CommitToDeal(_ context.Context, commitURL string, quantity int) error {
	m.commits = append(m.commits, commitCall{url: commitURL, qty: quantity})
	return nil
}

type mockExtractor struct {
	deals []models.Deal
}

func (m *mockExtractor) Extract(_ string) []models.Deal {
	return m.deals
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{
			CheckIntervalMinutes: 5,
			AutoCommitNewDeals:   false,
			AutoCommitQuantity:   1,
		},
	}
}

func widgetDeal() models.Deal {
	return models.Deal{
		ID:              models.DealID("Acme", "Widget"),
		Title:           "Widget",
		Store:           "Acme",
		Price:           decimal.RequireFromString("9.99"),
		MaxQuantity:     10,
		CurrentQuantity: 0,
		Link:            "https://acme.example.com/widget",
		CommitURL:       "/deals/42/commit",
	}
}

// seedDeal installs a deal as if it had been discovered and announced
// on an earlier check.
func seedDeal(store *mockStore, deal models.Deal) {
	cp := deal
	store.deals[deal.ID] = &cp
	store.notifications[notificationKey(deal.ID, models.KindNewDeal)] = true
}

// runOnce executes exactly one check: a pre-canceled context makes Run
// announce, tick once, and return.
func runOnce(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_NewDealStoredAndAnnounced(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	site := &mockSite{}
	runner := New(store, notifier, site, &mockExtractor{deals: []models.Deal{widgetDeal()}}, testConfig())

	runOnce(t, runner)

	id := models.DealID("Acme", "Widget")
	stored, ok := store.deals[id]
	if !ok {
		t.Fatal("Deal was not persisted")
	}
	if stored.Title != "Widget" || stored.Store != "Acme" {
		t.Errorf("Stored deal = %+v", stored)
	}
	if !stored.Price.Equal(decimal.RequireFromString("9.99")) {
		t.Errorf("Price = %s, want 9.99", stored.Price)
	}
	if stored.MaxQuantity != 10 || stored.CurrentQuantity != 0 {
		t.Errorf("Quantities = %d/%d, want 10/0", stored.MaxQuantity, stored.CurrentQuantity)
	}
	if stored.YourCommitment != 0 {
		t.Errorf("YourCommitment = %d, want the scraped baseline 0", stored.YourCommitment)
	}

	if len(notifier.batches) != 1 || len(notifier.batches[0]) != 1 {
		t.Fatalf("Expected one batch with one deal, got %v", notifier.batches)
	}
	if !store.notifications[notificationKey(id, models.KindNewDeal)] {
		t.Error("New-deal notification was not marked sent")
	}
	if store.batchMarks() != 1 {
		t.Errorf("Expected 1 batch record, got %d", store.batchMarks())
	}

	status := runner.Snapshot(context.Background())
	if status.ChecksCompleted != 1 || status.NewDeals != 1 {
		t.Errorf("Status = %+v", status)
	}
}

func TestRun_SecondCheckDoesNotReAnnounce(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	runner := New(store, notifier, &mockSite{}, &mockExtractor{deals: []models.Deal{widgetDeal()}}, testConfig())

	runOnce(t, runner)
	runOnce(t, runner)

	if len(notifier.batches) != 1 {
		t.Errorf("Expected a single batch across two checks, got %d", len(notifier.batches))
	}
	status := runner.Snapshot(context.Background())
	if status.NewDeals != 1 {
		t.Errorf("NewDeals = %d, want 1", status.NewDeals)
	}
}

func TestRun_QuantityChangeIsUpdateNotNew(t *testing.T) {
	store := newMockStore()
	existing := widgetDeal()
	existing.CurrentQuantity = 2
	existing.YourCommitment = 2
	seedDeal(store, existing)

	scraped := widgetDeal()
	scraped.CurrentQuantity = 5

	notifier := &mockNotifier{}
	runner := New(store, notifier, &mockSite{}, &mockExtractor{deals: []models.Deal{scraped}}, testConfig())

	runOnce(t, runner)

	if len(notifier.batches) != 0 {
		t.Errorf("A quantity change must not be announced as new, got %d batches", len(notifier.batches))
	}
	if len(notifier.quantityUpdates) != 1 || notifier.quantityUpdates[0] != "Widget:2->5" {
		t.Errorf("quantityUpdates = %v", notifier.quantityUpdates)
	}
	if len(notifier.commitmentUpdates) != 1 || notifier.commitmentUpdates[0] != "Widget:2->5" {
		t.Errorf("commitmentUpdates = %v", notifier.commitmentUpdates)
	}

	stored := store.deals[scraped.ID]
	if stored.CurrentQuantity != 5 || stored.YourCommitment != 5 {
		t.Errorf("Stored quantities = %d/%d, want 5/5", stored.CurrentQuantity, stored.YourCommitment)
	}

	status := runner.Snapshot(context.Background())
	if status.NewDeals != 0 || status.UpdatedDeals != 1 {
		t.Errorf("Status = %+v", status)
	}
}

func TestRun_UnchangedDealStaysQuiet(t *testing.T) {
	store := newMockStore()
	existing := widgetDeal()
	existing.CurrentQuantity = 2
	existing.YourCommitment = 2
	seedDeal(store, existing)

	scraped := widgetDeal()
	scraped.CurrentQuantity = 2
	scraped.Price = decimal.RequireFromString("8.49")

	notifier := &mockNotifier{}
	runner := New(store, notifier, &mockSite{}, &mockExtractor{deals: []models.Deal{scraped}}, testConfig())

	runOnce(t, runner)

	if len(notifier.quantityUpdates)+len(notifier.commitmentUpdates)+len(notifier.batches) != 0 {
		t.Errorf("Unchanged deal should not notify: %+v", notifier)
	}

	// Silent fields still refresh.
	stored := store.deals[existing.ID]
	if !stored.Price.Equal(decimal.RequireFromString("8.49")) {
		t.Errorf("Price should refresh silently, got %s", stored.Price)
	}

	status := runner.Snapshot(context.Background())
	if status.UpdatedDeals != 0 {
		t.Errorf("UpdatedDeals = %d, want 0", status.UpdatedDeals)
	}
}

func TestRun_SeenNotificationNotResent(t *testing.T) {
	store := newMockStore()
	existing := widgetDeal()
	existing.CurrentQuantity = 2
	existing.YourCommitment = 2
	seedDeal(store, existing)

	// Both updates for the new value were already delivered.
	key := fmt.Sprintf("%s:%d", existing.ID, 5)
	store.notifications[notificationKey(key, models.KindQuantityUpdate)] = true
	store.notifications[notificationKey(key, models.KindCommitmentUpdate)] = true

	scraped := widgetDeal()
	scraped.CurrentQuantity = 5

	notifier := &mockNotifier{}
	runner := New(store, notifier, &mockSite{}, &mockExtractor{deals: []models.Deal{scraped}}, testConfig())

	runOnce(t, runner)

	if len(notifier.quantityUpdates) != 0 || len(notifier.commitmentUpdates) != 0 {
		t.Errorf("Seen notifications must not be resent: %+v", notifier)
	}

	// State still advances so the change is not re-detected forever.
	stored := store.deals[existing.ID]
	if stored.CurrentQuantity != 5 || stored.YourCommitment != 5 {
		t.Errorf("Stored quantities = %d/%d, want 5/5", stored.CurrentQuantity, stored.YourCommitment)
	}
}

func TestRun_FailedBatchRetriedNextCheck(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{newDealsErr: errors.New("webhook down")}
	runner := New(store, notifier, &mockSite{}, &mockExtractor{deals: []models.Deal{widgetDeal()}}, testConfig())

	runOnce(t, runner)

	id := models.DealID("Acme", "Widget")
	if _, ok := store.deals[id]; !ok {
		t.Fatal("Deal should be stored even when the announcement fails")
	}
	if store.notifications[notificationKey(id, models.KindNewDeal)] {
		t.Error("Failed announcement must not be marked sent")
	}

	notifier.newDealsErr = nil
	runOnce(t, runner)

	if len(notifier.batches) != 2 {
		t.Fatalf("Expected a retry batch, got %d attempts", len(notifier.batches))
	}
	if !store.notifications[notificationKey(id, models.KindNewDeal)] {
		t.Error("Retried announcement should be marked sent")
	}
}

func TestRun_AutoCommit(t *testing.T) {
	tests := []struct {
		name           string
		autoQty        int
		maxQuantity    int
		current        int
		wantCommits    []commitCall
		wantCommitment int
	}{
		{
			name:           "plain",
			autoQty:        3,
			maxQuantity:    10,
			current:        0,
			wantCommits:    []commitCall{{url: "/deals/42/commit", qty: 3}},
			wantCommitment: 3,
		},
		{
			name:           "capped to remaining",
			autoQty:        3,
			maxQuantity:    2,
			current:        1,
			wantCommits:    []commitCall{{url: "/deals/42/commit", qty: 1}},
			wantCommitment: 2,
		},
		{
			name:           "skip full deal",
			autoQty:        3,
			maxQuantity:    2,
			current:        2,
			wantCommits:    nil,
			wantCommitment: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deal := widgetDeal()
			deal.MaxQuantity = tt.maxQuantity
			deal.CurrentQuantity = tt.current

			cfg := testConfig()
			cfg.Monitor.AutoCommitNewDeals = true
			cfg.Monitor.AutoCommitQuantity = tt.autoQty

			store := newMockStore()
			site := &mockSite{}
			runner := New(store, &mockNotifier{}, site, &mockExtractor{deals: []models.Deal{deal}}, cfg)

			runOnce(t, runner)

			if len(site.commits) != len(tt.wantCommits) {
				t.Fatalf("commits = %v, want %v", site.commits, tt.wantCommits)
			}
			for i := range tt.wantCommits {
				if site.commits[i] != tt.wantCommits[i] {
					t.Errorf("commit[%d] = %v, want %v", i, site.commits[i], tt.wantCommits[i])
				}
			}
			if stored := store.deals[deal.ID]; stored.YourCommitment != tt.wantCommitment {
				t.Errorf("YourCommitment = %d, want %d", stored.YourCommitment, tt.wantCommitment)
			}
		})
	}
}

func TestRun_AutoCommitDisabled(t *testing.T) {
	site := &mockSite{}
	runner := New(newMockStore(), &mockNotifier{}, site, &mockExtractor{deals: []models.Deal{widgetDeal()}}, testConfig())

	runOnce(t, runner)

	if len(site.commits) != 0 {
		t.Errorf("Expected no auto-commits, got %v", site.commits)
	}
}

func TestRun_FetchFailureNotifiesOnce(t *testing.T) {
	site := &mockSite{fetchErr: errors.New("connection refused")}
	notifier := &mockNotifier{}
	runner := New(newMockStore(), notifier, site, &mockExtractor{}, testConfig())

	runOnce(t, runner)
	runOnce(t, runner)

	if len(notifier.errorsSent) != 1 {
		t.Fatalf("Expected a single throttled error notification, got %d", len(notifier.errorsSent))
	}
	if !strings.Contains(notifier.errorsSent[0], "Failed to fetch dashboard") {
		t.Errorf("Error message = %q", notifier.errorsSent[0])
	}

	status := runner.Snapshot(context.Background())
	if status.LastError == "" {
		t.Error("LastError should be recorded")
	}
	if status.ChecksCompleted != 2 {
		t.Errorf("ChecksCompleted = %d, want 2", status.ChecksCompleted)
	}
}

func TestRun_StoreFailureSurfacesInStatus(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("database is locked")
	runner := New(store, &mockNotifier{}, &mockSite{}, &mockExtractor{deals: []models.Deal{widgetDeal()}}, testConfig())

	runOnce(t, runner)

	status := runner.Snapshot(context.Background())
	if !strings.Contains(status.LastError, "completed with errors") {
		t.Errorf("LastError = %q", status.LastError)
	}
}

func TestRun_AnnouncesStartup(t *testing.T) {
	notifier := &mockNotifier{}
	runner := New(newMockStore(), notifier, &mockSite{}, &mockExtractor{}, testConfig())

	runOnce(t, runner)

	if notifier.startups != 1 {
		t.Errorf("startups = %d, want 1", notifier.startups)
	}
	if notifier.summaries != 1 {
		t.Errorf("summaries = %d, want 1", notifier.summaries)
	}
}

func TestSnapshot_IncludesStoreStats(t *testing.T) {
	store := newMockStore()
	active := widgetDeal()
	active.CurrentQuantity = 3
	seedDeal(store, active)

	runner := New(store, &mockNotifier{}, &mockSite{}, &mockExtractor{}, testConfig())

	status := runner.Snapshot(context.Background())
	if status.Store == nil {
		t.Fatal("Snapshot should include store stats")
	}
	if status.Store.TotalDeals != 1 || status.Store.ActiveDeals != 1 {
		t.Errorf("Store stats = %+v", status.Store)
	}
}
