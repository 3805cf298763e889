package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/mocks"
	"github.com/offsync/offsync/internal/server/store"
	"github.com/offsync/offsync/pkg/encryption"
)

const (
	testHardwareID = "hw-guard"
	testToken      = "device-secret"
)

var testNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type guardFixture struct {
	guard   *Guard
	handler http.Handler
	seen    *[]string
}

func newGuardFixture(t *testing.T, deviceStore DeviceStore) guardFixture {
	t.Helper()
	guard := NewGuard(deviceStore, 5*time.Minute, zerolog.Nop())
	guard.now = func() time.Time { return testNow }

	var seen []string
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, ok := DeviceFromContext(r.Context())
		require.True(t, ok)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = append(seen, device.HardwareID+"|"+string(body))
		w.WriteHeader(http.StatusOK)
	}))
	return guardFixture{guard: guard, handler: handler, seen: &seen}
}

func newSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "guard.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = s.SaveDeviceToken(context.Background(), testHardwareID, "", "", string(hash))
	require.NoError(t, err)
	return s
}

func signedRequest(method, target, body string, at time.Time) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	req.Header.Set(constants.HeaderDeviceID, testHardwareID)
	req.Header.Set(constants.HeaderDeviceToken, testToken)
	req.Header.Set(constants.HeaderTimestamp, ts)
	req.Header.Set(constants.HeaderSignature,
		encryption.SignRequest([]byte(testToken), method, requestPath(req), ts, []byte(body)))
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertUnauthorized(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"unauthorized"}`, rec.Body.String())
}

func TestGuard_AcceptsSignedRequestAndRestoresBody(t *testing.T) {
	f := newGuardFixture(t, newSQLiteStore(t))
	body := `[{"capturedAt":"2024-07-01T11:59:00Z","lat":1,"lng":2}]`

	rec := serve(f.handler, signedRequest(http.MethodPost, "/ingest/locations", body, testNow))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{testHardwareID + "|" + body}, *f.seen)
}

func TestGuard_SignsPathWithQuery(t *testing.T) {
	f := newGuardFixture(t, newSQLiteStore(t))

	req := signedRequest(http.MethodGet, "/devices/hw-guard/locations?limit=5", "", testNow)
	assert.Equal(t, http.StatusOK, serve(f.handler, req).Code)

	// A signature over the bare path does not cover a query.
	req = signedRequest(http.MethodGet, "/devices/hw-guard/locations", "", testNow.Add(time.Second))
	req.URL.RawQuery = "limit=1000"
	assertUnauthorized(t, serve(f.handler, req))
}

func TestGuard_RejectsReplay(t *testing.T) {
	f := newGuardFixture(t, newSQLiteStore(t))
	body := `[]`

	first := signedRequest(http.MethodPost, "/ingest/locations", body, testNow)
	replay := signedRequest(http.MethodPost, "/ingest/locations", body, testNow)
	prefixed := signedRequest(http.MethodPost, "/ingest/locations", body, testNow)
	prefixed.Header.Set(constants.HeaderSignature, "0x"+strings.ToUpper(prefixed.Header.Get(constants.HeaderSignature)))

	assert.Equal(t, http.StatusOK, serve(f.handler, first).Code)
	assertUnauthorized(t, serve(f.handler, replay))
	assertUnauthorized(t, serve(f.handler, prefixed))
	assert.Len(t, *f.seen, 1)
}

func TestGuard_Rejections(t *testing.T) {
	body := `[{"lat":1}]`
	cases := map[string]func(r *http.Request){
		"missing device id": func(r *http.Request) { r.Header.Del(constants.HeaderDeviceID) },
		"missing token":     func(r *http.Request) { r.Header.Del(constants.HeaderDeviceToken) },
		"unknown device":    func(r *http.Request) { r.Header.Set(constants.HeaderDeviceID, "hw-other") },
		"wrong token":       func(r *http.Request) { r.Header.Set(constants.HeaderDeviceToken, "guess") },
		"missing timestamp": func(r *http.Request) { r.Header.Del(constants.HeaderTimestamp) },
		"missing signature": func(r *http.Request) { r.Header.Del(constants.HeaderSignature) },
		"garbage timestamp": func(r *http.Request) { r.Header.Set(constants.HeaderTimestamp, "yesterday") },
		"tampered body": func(r *http.Request) {
			r.Body = io.NopCloser(strings.NewReader(`[{"lat":2}]`))
		},
		"different method": func(r *http.Request) { r.Method = http.MethodPut },
		"non-hex signature": func(r *http.Request) {
			r.Header.Set(constants.HeaderSignature, "zz")
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newGuardFixture(t, newSQLiteStore(t))
			req := signedRequest(http.MethodPost, "/ingest/locations", body, testNow)
			mutate(req)
			assertUnauthorized(t, serve(f.handler, req))
			assert.Empty(t, *f.seen)
		})
	}
}

func TestGuard_ClockSkew(t *testing.T) {
	f := newGuardFixture(t, newSQLiteStore(t))

	inside := signedRequest(http.MethodPost, "/ingest/locations", "[]", testNow.Add(-5*time.Minute))
	assert.Equal(t, http.StatusOK, serve(f.handler, inside).Code)

	stale := signedRequest(http.MethodPost, "/ingest/locations", "[]", testNow.Add(-5*time.Minute-time.Millisecond))
	assertUnauthorized(t, serve(f.handler, stale))

	future := signedRequest(http.MethodPost, "/ingest/locations", "[]", testNow.Add(6*time.Minute))
	assertUnauthorized(t, serve(f.handler, future))
}

func TestGuard_NonceStoreFailureFailsClosed(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)

	deviceStore := new(mocks.MockDeviceStore)
	deviceStore.On("FindDeviceByHardwareID", mock.Anything, testHardwareID).
		Return(&store.Device{HardwareID: testHardwareID, TokenHash: string(hash)}, nil)
	deviceStore.On("RecordNonce", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection reset"))

	f := newGuardFixture(t, deviceStore)
	assertUnauthorized(t, serve(f.handler, signedRequest(http.MethodPost, "/ingest/locations", "[]", testNow)))
	assert.Empty(t, *f.seen)
	deviceStore.AssertExpectations(t)
}

func TestGuard_LookupFailureFailsClosed(t *testing.T) {
	deviceStore := new(mocks.MockDeviceStore)
	deviceStore.On("FindDeviceByHardwareID", mock.Anything, testHardwareID).
		Return(nil, errors.New("database down"))

	f := newGuardFixture(t, deviceStore)
	assertUnauthorized(t, serve(f.handler, signedRequest(http.MethodPost, "/ingest/locations", "[]", testNow)))
	deviceStore.AssertNotCalled(t, "RecordNonce", mock.Anything, mock.Anything, mock.Anything)
}

func TestGuard_OversizedBody(t *testing.T) {
	f := newGuardFixture(t, newSQLiteStore(t))
	req := signedRequest(http.MethodPost, "/ingest/locations", strings.Repeat("x", 64), testNow)

	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 16)
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHashToken(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)

	hash, err := HashToken(token, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)))
}
