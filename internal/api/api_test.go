package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/breaker"
	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/db"
	"github.com/covecrm/mailengine/internal/deadletter"
	"github.com/covecrm/mailengine/internal/mailsync"
	"github.com/covecrm/mailengine/internal/models"
	"github.com/covecrm/mailengine/internal/notify"
	"github.com/covecrm/mailengine/internal/outbound"
	"github.com/covecrm/mailengine/internal/quota"
	"github.com/covecrm/mailengine/internal/retrypolicy"
	ws "github.com/covecrm/mailengine/internal/websocket"
)

type memAccounts struct {
	accounts map[string]*models.Account
}

func (m *memAccounts) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	if account, ok := m.accounts[accountID]; ok {
		return account, nil
	}
	return nil, db.ErrAccountNotFound
}

type memSyncStore struct {
	mu         sync.Mutex
	messages   map[string]*models.EmailMessage
	watermarks map[string]uint32
}

func newMemSyncStore() *memSyncStore {
	return &memSyncStore{
		messages:   make(map[string]*models.EmailMessage),
		watermarks: make(map[string]uint32),
	}
}

func (s *memSyncStore) BulkUpsertMessages(_ context.Context, messages []*models.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.messages[m.AccountID+"|"+m.RemoteID] = m
	}
	return nil
}

func (s *memSyncStore) GetWatermark(_ context.Context, accountID, folderName string) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[accountID+"|"+folderName]
	return wm, ok, nil
}

func (s *memSyncStore) SetWatermark(_ context.Context, accountID, folderName string, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "|" + folderName
	if uid > s.watermarks[key] {
		s.watermarks[key] = uid
	}
	return nil
}

func (s *memSyncStore) UpdateAccountLastSync(context.Context, string, time.Time) error {
	return nil
}

type memFetcher struct {
	msgs  []connector.RawMessage
	calls int
}

func (f *memFetcher) FetchHighestUID(context.Context, *models.Account, string) (uint32, error) {
	f.calls++
	var highest uint32
	for _, m := range f.msgs {
		if m.UID > highest {
			highest = m.UID
		}
	}
	return highest, nil
}

func (f *memFetcher) FetchRange(_ context.Context, _ *models.Account, _ string, from, to uint32) ([]connector.RawMessage, error) {
	var out []connector.RawMessage
	for _, m := range f.msgs {
		if m.UID >= from && m.UID <= to {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *memFetcher) FetchSince(ctx context.Context, account *models.Account, folder string, since uint32) ([]connector.RawMessage, error) {
	return f.FetchRange(ctx, account, folder, since+1, ^uint32(0))
}

type okSender struct{}

func (okSender) Send(context.Context, *connector.OutboundMessage, connector.Credentials) (*connector.SendResult, error) {
	return &connector.SendResult{ProviderMessageID: "ok"}, nil
}

type nullCreds struct{}

func (nullCreds) Resolve(context.Context, *models.Account) (connector.Credentials, error) {
	return connector.Credentials{Provider: models.ProviderIMAP}, nil
}

func newTestServer(fetcher connector.Fetcher) *Server {
	logger := zap.NewNop()
	accounts := &memAccounts{accounts: map[string]*models.Account{
		"acct-1": {
			ID:           "acct-1",
			UserID:       "user-1",
			EmailAddress: "owner@example.com",
			Provider:     models.ProviderIMAP,
		},
	}}

	engine := mailsync.NewEngine(newMemSyncStore(), fetcher, notify.NopNotifier{}, logger, mailsync.Config{
		QuickLoadWindow: 50,
		Folders:         []string{"INBOX"},
	})

	status := outbound.NewStatusTracker()
	pipeline := outbound.NewPipeline(outbound.Deps{
		Sender:      okSender{},
		Credentials: nullCreds{},
		Quota:       quota.NewTracker(quota.NewMemoryStore(), 10000),
		Breaker:     breaker.NewRegistry(5, time.Minute),
		Policy:      retrypolicy.NewPolicy(),
		DeadLetters: deadletter.NewMemoryStore(),
		Status:      status,
		Logger:      logger,
	}, outbound.Config{DefaultBatchSize: 25, DefaultMaxConcurrent: 3})

	return NewServer(accounts, engine, pipeline, status, deadletter.NewMemoryStore(), ws.NewHub(10, logger), 2*time.Minute, logger)
}

func seedRaw(uid uint32) connector.RawMessage {
	raw := fmt.Sprintf("Message-Id: <m%d@example.com>\r\nFrom: alice@example.com\r\nTo: owner@example.com\r\nSubject: s%d\r\n\r\nbody\r\n", uid, uid)
	return connector.RawMessage{UID: uid, Raw: []byte(raw)}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&memFetcher{})

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncUnknownAccount(t *testing.T) {
	server := newTestServer(&memFetcher{})

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/nope/sync", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuickSyncEndpoint(t *testing.T) {
	fetcher := &memFetcher{msgs: []connector.RawMessage{seedRaw(1), seedRaw(2), seedRaw(3)}}
	server := newTestServer(fetcher)

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync?mode=quick", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["ingested"])
}

func TestIncrementalSyncEndpoint(t *testing.T) {
	fetcher := &memFetcher{msgs: []connector.RawMessage{seedRaw(1), seedRaw(2)}}
	server := newTestServer(fetcher)

	// Establish the watermark first, then catch up.
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync?mode=quick", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	fetcher.msgs = append(fetcher.msgs, seedRaw(3))

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Never-synced accounts count as stale, so the catch-up ran.
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["synced"])
}

func TestIncrementalSyncSkipsFreshAccount(t *testing.T) {
	fetcher := &memFetcher{msgs: []connector.RawMessage{seedRaw(1)}}
	server := newTestServer(fetcher)

	now := time.Now()
	server.store.(*memAccounts).accounts["acct-1"].LastSyncAt = &now

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["synced"])
	assert.Equal(t, 0, fetcher.calls, "fresh account should not hit the mailbox")
}

func TestIncrementalSyncRunsForStaleAccount(t *testing.T) {
	fetcher := &memFetcher{msgs: []connector.RawMessage{seedRaw(1)}}
	server := newTestServer(fetcher)

	stale := time.Now().Add(-10 * time.Minute)
	server.store.(*memAccounts).accounts["acct-1"].LastSyncAt = &stale

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["synced"])
}

func TestCampaignLifecycle(t *testing.T) {
	server := newTestServer(&memFetcher{})

	payload, err := json.Marshal(&models.Campaign{
		AccountID:   "acct-1",
		FromAddress: "owner@example.com",
		Subject:     "hello",
		BodyText:    "hi there",
		Recipients: []models.Recipient{
			{Address: "a@example.com"},
			{Address: "b@example.com"},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewReader(payload))
	server.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	campaignID := created["campaign_id"]
	require.NotEmpty(t, campaignID)

	// The campaign runs in the background; poll until it finishes.
	deadline := time.Now().Add(2 * time.Second)
	var status models.CampaignStatus
	for {
		rec = httptest.NewRecorder()
		server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/"+campaignID+"/status", nil))
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			if status.State == models.CampaignCompleted {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("campaign did not complete, last state: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 2, status.Sent)
	assert.Equal(t, 0, status.Failed)

	// Finished campaigns cannot be cancelled.
	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCampaignUnknownAccount(t *testing.T) {
	server := newTestServer(&memFetcher{})

	payload := []byte(`{"account_id":"nope","from_address":"owner@example.com","recipients":[{"address":"a@example.com"}]}`)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewReader(payload)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignStatusNotFound(t *testing.T) {
	server := newTestServer(&memFetcher{})

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/nope/status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeadLettersEndpointEmpty(t *testing.T) {
	server := newTestServer(&memFetcher{})

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1/deadletters", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":null}`, rec.Body.String())
}
