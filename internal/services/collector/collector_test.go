package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/services/matcher"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// MockPageAdapter is a mock implementation of interfaces.PageAdapter
type MockPageAdapter struct {
	mock.Mock
}

func (m *MockPageAdapter) IsReady(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAdapter) ExtractItems(ctx context.Context) ([]models.Item, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]models.Item)
	return items, args.Error(1)
}

func (m *MockPageAdapter) Click(ctx context.Context, index int) (bool, error) {
	args := m.Called(ctx, index)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAdapter) IsSessionActive(ctx context.Context) (models.LoginState, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.LoginState), args.Error(1)
}

// MockNotifier is a mock implementation of interfaces.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, text string, metadata map[string]string) error {
	args := m.Called(ctx, text, metadata)
	return args.Error(0)
}

type fixture struct {
	adapter   *MockPageAdapter
	notifier  *MockNotifier
	stores    dedup.Set
	collector *Collector
	dataDir   string
}

func newFixture(t *testing.T, maxLiveRows int, rules ...matcher.Rule) *fixture {
	t.Helper()

	dataDir := t.TempDir()
	clock := common.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	stores, err := OpenStores(common.StorageConfig{DataDir: dataDir, CoalesceDelay: "1h"}, clock, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { stores.FlushAll(context.Background()) })

	m, err := matcher.NewFromRules(rules...)
	require.NoError(t, err)

	adapter := new(MockPageAdapter)
	notifier := new(MockNotifier)
	c, err := NewCollector(adapter, m, stores, notifier, nil, Config{
		MaxLiveRows: maxLiveRows,
		ArchiveDir:  filepath.Join(dataDir, "archive"),
	}, arbor.NewLogger())
	require.NoError(t, err)

	return &fixture{adapter: adapter, notifier: notifier, stores: stores, collector: c, dataDir: dataDir}
}

var gpuRule = matcher.Rule{Name: "gpu", Keywords: []string{"rtx"}, Actions: []string{matcher.ActionNotify}}

func TestPass_NotReady(t *testing.T) {
	f := newFixture(t, 0, gpuRule)
	f.adapter.On("IsReady", mock.Anything).Return(false, nil)

	res, err := f.collector.Pass(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.NotReady)
	f.adapter.AssertNotCalled(t, "ExtractItems", mock.Anything)
}

func TestPass_AdapterErrorPropagates(t *testing.T) {
	f := newFixture(t, 0, gpuRule)
	f.adapter.On("IsReady", mock.Anything).Return(false, errors.New("tab crashed"))

	_, err := f.collector.Pass(context.Background(), 1)
	assert.Error(t, err)
}

func TestPass_NewListingsNotifiedOnce(t *testing.T) {
	f := newFixture(t, 0, gpuRule)
	items := []models.Item{
		{Index: 0, ID: "A1", Title: "RTX 4090", Price: 1500},
		{Index: 1, ID: "A2", Title: "Office chair"},
	}
	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return(items, nil)
	f.notifier.On("Send", mock.Anything, mock.MatchedBy(func(text string) bool {
		return text == "[gpu] New listing: RTX 4090 (1500.00)"
	}), mock.Anything).Return(nil).Once()

	res, err := f.collector.Pass(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	_, err = f.collector.Pass(context.Background(), 2)
	require.NoError(t, err)

	listings := f.stores[models.StoreListings]
	require.Equal(t, 1, listings.Len())
	entry := listings.List()[0]
	assert.Equal(t, int64(1), entry.Serial)
	assert.Equal(t, "gpu", entry.Fields[models.FieldRules])
	assert.Equal(t, "1", entry.Fields[models.FieldCycleID])

	f.notifier.AssertExpectations(t)
}

func TestPass_ClickOncePerItemPerRule(t *testing.T) {
	clickRule := matcher.Rule{Name: "grab", Keywords: []string{"rtx"}, Actions: []string{matcher.ActionClick}}
	f := newFixture(t, 0, clickRule)

	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{{Index: 3, ID: "A1", Title: "RTX 4080"}}, nil)
	f.adapter.On("Click", mock.Anything, 3).Return(true, nil).Once()

	for cycle := uint64(1); cycle <= 3; cycle++ {
		_, err := f.collector.Pass(context.Background(), cycle)
		require.NoError(t, err)
	}

	f.adapter.AssertNumberOfCalls(t, "Click", 1)
	assert.Equal(t, 1, f.stores[models.StoreActions].Len())
}

func TestPass_MissingClickTargetRetriesNextCycle(t *testing.T) {
	clickRule := matcher.Rule{Name: "grab", Keywords: []string{"rtx"}, Actions: []string{matcher.ActionClick}}
	f := newFixture(t, 0, clickRule)

	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{{Index: 0, ID: "A1", Title: "RTX 4080"}}, nil)
	f.adapter.On("Click", mock.Anything, 0).Return(false, nil).Once()
	f.adapter.On("Click", mock.Anything, 0).Return(true, nil).Once()

	_, err := f.collector.Pass(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, f.stores[models.StoreActions].Len())

	_, err = f.collector.Pass(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, f.stores[models.StoreActions].Len())
	f.adapter.AssertExpectations(t)
}

func TestPass_LeadsMergeBlankFields(t *testing.T) {
	leadRule := matcher.Rule{Name: "buyers", Keywords: []string{"wanted"}, Actions: []string{matcher.ActionLead}}
	f := newFixture(t, 0, leadRule)

	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{{Index: 0, ID: "L1", Title: "Wanted: pallets"}}, nil).Once()
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{{Index: 0, ID: "L1", Title: "Wanted: pallets", Seller: "bob"}}, nil).Once()
	f.notifier.On("Send", mock.Anything, "New lead: Wanted: pallets", mock.Anything).Return(nil).Once()

	_, err := f.collector.Pass(context.Background(), 1)
	require.NoError(t, err)
	_, err = f.collector.Pass(context.Background(), 2)
	require.NoError(t, err)

	leads := f.stores[models.StoreLeads]
	require.Equal(t, 1, leads.Len())
	assert.Equal(t, "bob", leads.List()[0].Fields[models.FieldSeller])
	f.notifier.AssertExpectations(t)
}

func TestPass_CancelledBetweenItems(t *testing.T) {
	f := newFixture(t, 0, gpuRule)
	ctx, cancel := context.WithCancel(context.Background())

	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{
		{Index: 0, ID: "A1", Title: "RTX 1"},
		{Index: 1, ID: "A2", Title: "RTX 2"},
	}, nil)
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil)

	_, err := f.collector.Pass(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.stores[models.StoreListings].Len())
}

func TestPass_AutoRotate(t *testing.T) {
	f := newFixture(t, 2, gpuRule)
	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Return([]models.Item{
		{Index: 0, ID: "A1", Title: "RTX 1"},
		{Index: 1, ID: "A2", Title: "RTX 2"},
		{Index: 2, ID: "A3", Title: "RTX 3"},
	}, nil)
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.collector.Pass(context.Background(), 1)
	require.NoError(t, err)

	listings := f.stores[models.StoreListings]
	assert.Equal(t, 2, listings.Len())

	archives, err := os.ReadDir(filepath.Join(f.dataDir, "archive"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func TestItemKeyFallback(t *testing.T) {
	withID := ItemFields(models.Item{ID: " A1 ", Title: "x"})
	assert.Equal(t, "id:a1", itemKey(withID))

	noID := ItemFields(models.Item{Title: "Desk  Lamp", Seller: "Bob", Price: 12})
	assert.Equal(t, "desk lamp|bob|12.00", itemKey(noID))

	assert.Equal(t, "", itemKey(ItemFields(models.Item{})))
}

func TestPass_SessionCheckWaitsForPass(t *testing.T) {
	f := newFixture(t, 0, gpuRule)
	extracting := make(chan struct{})
	release := make(chan struct{})

	f.adapter.On("IsReady", mock.Anything).Return(true, nil)
	f.adapter.On("ExtractItems", mock.Anything).Run(func(mock.Arguments) {
		close(extracting)
		<-release
	}).Return([]models.Item{}, nil)
	f.adapter.On("IsSessionActive", mock.Anything).Return(models.LoginTrue, nil)

	passDone := make(chan error, 1)
	go func() {
		_, err := f.collector.Pass(context.Background(), 1)
		passDone <- err
	}()
	<-extracting

	sessionDone := make(chan models.LoginState, 1)
	go func() {
		state, _ := f.collector.page.IsSessionActive(context.Background())
		sessionDone <- state
	}()

	time.Sleep(50 * time.Millisecond)
	f.adapter.AssertNotCalled(t, "IsSessionActive", mock.Anything)

	close(release)
	require.NoError(t, <-passDone)
	assert.Equal(t, models.LoginTrue, <-sessionDone)
	f.adapter.AssertNumberOfCalls(t, "IsSessionActive", 1)
}
