package ingestserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/logstore"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/runtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAppStore is an in-memory double for runtime.AppStore, keeping
// ingestserver's tests off a live Postgres connection.
type fakeAppStoreKey struct {
	appID string
	hash  string
}

type fakeAppStore struct {
	mu     sync.Mutex
	apps   map[string]model.App       // by id
	byName map[string]string          // ownerID+"/"+name -> id
	keys   map[string]fakeAppStoreKey // indexKey -> (appID, hash)
}

func newFakeAppStore() *fakeAppStore {
	return &fakeAppStore{
		apps:   make(map[string]model.App),
		byName: make(map[string]string),
		keys:   make(map[string]fakeAppStoreKey),
	}
}

func (f *fakeAppStore) CreateOrGetApp(ctx context.Context, ownerID, name string) (model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ownerID + "/" + name
	if id, ok := f.byName[key]; ok {
		return f.apps[id], nil
	}
	app := model.App{ID: uuid.NewString(), OwnerID: ownerID, Name: name}
	f.apps[app.ID] = app
	f.byName[key] = app.ID
	return app, nil
}

func (f *fakeAppStore) GetApp(ctx context.Context, appID string) (model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[appID]
	if !ok {
		return model.App{}, model.ErrSessionNotFound
	}
	return app, nil
}

func (f *fakeAppStore) CreateAPIKey(ctx context.Context, appID, indexKey, keyHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[indexKey] = fakeAppStoreKey{appID: appID, hash: keyHash}
	return nil
}

func (f *fakeAppStore) GetActiveKeyByIndex(ctx context.Context, indexKey string) (appID, keyHash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[indexKey]
	if !ok {
		return "", "", apikey.ErrIndexNotFound
	}
	return k.appID, k.hash, nil
}

func (f *fakeAppStore) Close() {}

// newTestRuntimeAndStore builds a Runtime wired to fakes/in-memory
// backends, plus the fake app store and a registered app's plaintext
// key, for handler tests below.
func newTestRuntimeAndStore(t *testing.T) (*runtime.Runtime, *fakeAppStore, string, string) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logStore, err := logstore.Open("")
	if err != nil {
		t.Fatalf("logstore.Open: %v", err)
	}
	t.Cleanup(func() { logStore.Close() })

	apps := newFakeAppStore()
	app, err := apps.CreateOrGetApp(context.Background(), "owner-1", "myapp")
	if err != nil {
		t.Fatalf("CreateOrGetApp: %v", err)
	}

	plaintext, err := apikey.GeneratePlaintext()
	if err != nil {
		t.Fatalf("GeneratePlaintext: %v", err)
	}
	hash, err := apikey.Hash(plaintext, "pepper")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	indexKey := apikey.IndexKey(plaintext, "pepper")
	if err := apps.CreateAPIKey(context.Background(), app.ID, indexKey, hash); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	rt, err := runtime.New(apps, rdb, logStore, nil, runtime.Config{
		Pepper:                "pepper",
		VerificationURL:       "https://example.test/verify",
		DSN:                   "https://example.test",
		SpoolDir:              t.TempDir(),
		SpoolMaxBytes:         1 << 20,
		ClassifierConcurrency: 4,
	})
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { rt.Shutdown(context.Background()) })

	return rt, apps, app.ID, plaintext
}

func TestHealthEndpoint(t *testing.T) {
	rt, _, _, _ := newTestRuntimeAndStore(t)
	srv := New(rt)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIngestAcceptsValidBatch(t *testing.T) {
	rt, _, appID, plaintext := newTestRuntimeAndStore(t)
	srv := New(rt)

	body := map[string]interface{}{
		"api_key": plaintext,
		"logs": []map[string]interface{}{
			{"level": "INFO", "message": "hello"},
			{"level": "ERROR", "message": "boom", "service": "api"},
		},
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Accepted)
	}

	_, ok := rt.Processors.Peek(appID)
	if !ok {
		t.Errorf("expected a processor to have been created for %s", appID)
	}
}

func TestIngestRejectsBadAPIKey(t *testing.T) {
	rt, _, _, _ := newTestRuntimeAndStore(t)
	srv := New(rt)

	body := map[string]interface{}{
		"api_key": "sk_not_a_real_key",
		"logs":    []map[string]interface{}{{"level": "INFO", "message": "hi"}},
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestIngestRejectsOversizedRecordCount(t *testing.T) {
	rt, _, _, plaintext := newTestRuntimeAndStore(t)
	srv := New(rt)

	logs := make([]map[string]interface{}, EnvelopeLimitRecords+1)
	for i := range logs {
		logs[i] = map[string]interface{}{"level": "INFO", "message": "x"}
	}
	body := map[string]interface{}{"api_key": plaintext, "logs": logs}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestDeviceStartCompletePollHappyPath(t *testing.T) {
	rt, _, _, _ := newTestRuntimeAndStore(t)
	srv := New(rt)

	startReq := httptest.NewRequest(http.MethodPost, "/sdk/device/start", bytes.NewBufferString(`{"app_name":"cli-app"}`))
	startReq.Header.Set("Content-Type", "application/json")
	startW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(startW, startReq)
	if startW.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d; body=%s", startW.Code, http.StatusOK, startW.Body.String())
	}
	var startResp deviceStartResponse
	if err := json.Unmarshal(startW.Body.Bytes(), &startResp); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}

	pollReq := httptest.NewRequest(http.MethodGet, "/sdk/device/poll?device_code="+startResp.DeviceCode, nil)
	pollW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(pollW, pollReq)
	if pollW.Code != http.StatusAccepted {
		t.Fatalf("poll (pending) status = %d, want %d", pollW.Code, http.StatusAccepted)
	}

	completeBody := []byte(`{"user_code":"` + startResp.UserCode + `","user_id":"user-1"}`)
	completeReq := httptest.NewRequest(http.MethodPost, "/sdk/device/complete", bytes.NewReader(completeBody))
	completeReq.Header.Set("Content-Type", "application/json")
	completeW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(completeW, completeReq)
	if completeW.Code != http.StatusOK {
		t.Fatalf("complete status = %d, want %d; body=%s", completeW.Code, http.StatusOK, completeW.Body.String())
	}

	okPollReq := httptest.NewRequest(http.MethodGet, "/sdk/device/poll?device_code="+startResp.DeviceCode, nil)
	okPollW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(okPollW, okPollReq)
	if okPollW.Code != http.StatusOK {
		t.Fatalf("poll (ok) status = %d, want %d; body=%s", okPollW.Code, http.StatusOK, okPollW.Body.String())
	}
	var okResp devicePollResponse
	if err := json.Unmarshal(okPollW.Body.Bytes(), &okResp); err != nil {
		t.Fatalf("unmarshal ok poll: %v", err)
	}
	if okResp.APIKey == "" || okResp.AppID == "" {
		t.Errorf("expected api_key and app_id in first successful poll, got %+v", okResp)
	}

	consumedReq := httptest.NewRequest(http.MethodGet, "/sdk/device/poll?device_code="+startResp.DeviceCode, nil)
	consumedW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(consumedW, consumedReq)
	if consumedW.Code != http.StatusGone {
		t.Fatalf("poll (consumed) status = %d, want %d", consumedW.Code, http.StatusGone)
	}
}

func TestSummaryRequiresMatchingOwnership(t *testing.T) {
	rt, _, appID, plaintext := newTestRuntimeAndStore(t)
	srv := New(rt)

	req := httptest.NewRequest(http.MethodGet, "/summary/"+appID, nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	otherReq := httptest.NewRequest(http.MethodGet, "/summary/some-other-app", nil)
	otherReq.Header.Set("Authorization", "Bearer "+plaintext)
	otherW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(otherW, otherReq)
	if otherW.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", otherW.Code, http.StatusForbidden)
	}

	noAuthReq := httptest.NewRequest(http.MethodGet, "/summary/"+appID, nil)
	noAuthW := httptest.NewRecorder()
	srv.Engine.ServeHTTP(noAuthW, noAuthReq)
	if noAuthW.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", noAuthW.Code, http.StatusUnauthorized)
	}
}
