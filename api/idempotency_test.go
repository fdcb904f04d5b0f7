package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/leave-engine/leave"
)

const idemTTL = time.Hour

// countingHandler answers with status and counts calls.
func countingHandler(status int, calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		writeJSON(w, status, map[string]string{"id": "r1"})
	})
}

func idempotentRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	req.Header.Set(IdempotencyHeader, key)
	return req.WithContext(WithActor(req.Context(), empActor))
}

func storedPayload(t *testing.T, status int, body string) []byte {
	t.Helper()
	b, err := json.Marshal(storedResponse{Status: status, Body: json.RawMessage(body)})
	require.NoError(t, err)
	return b
}

func TestIdempotency_FirstRequestIsCached(t *testing.T) {
	// GIVEN: no cached response for the key
	db, mock := redismock.NewClientMock()
	cacheKey := IdempotencyCacheKey("emp", "k1")
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "locked", idempotencyLockTTL).SetVal(true)
	mock.ExpectSet(cacheKey, storedPayload(t, http.StatusCreated, `{"id":"r1"}`), idemTTL).SetVal("OK")
	mock.ExpectDel(cacheKey + ":lock").SetVal(1)

	calls := 0
	mw := Idempotency(db, idemTTL, zaptest.NewLogger(t))

	// WHEN: the request is served
	rec := httptest.NewRecorder()
	mw(countingHandler(http.StatusCreated, &calls)).ServeHTTP(rec, idempotentRequest("k1"))

	// THEN: the handler ran once and the response was stored
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(ReplayHeader))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysCachedResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey := IdempotencyCacheKey("emp", "k1")
	mock.ExpectGet(cacheKey).SetVal(string(storedPayload(t, http.StatusCreated, `{"id":"r1"}`)))

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(db, idemTTL, zaptest.NewLogger(t))(countingHandler(http.StatusCreated, &calls)).
		ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(ReplayHeader))
	assert.JSONEq(t, `{"id":"r1"}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ConcurrentDuplicateIsRejected(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey := IdempotencyCacheKey("emp", "k1")
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "locked", idempotencyLockTTL).SetVal(false)

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(db, idemTTL, zaptest.NewLogger(t))(countingHandler(http.StatusCreated, &calls)).
		ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeProcessing, decodeBody[ErrorResponse](t, rec).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey := IdempotencyCacheKey("emp", "k1")
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "locked", idempotencyLockTTL).SetVal(true)
	mock.ExpectDel(cacheKey + ":lock").SetVal(1)

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(db, idemTTL, zaptest.NewLogger(t))(countingHandler(http.StatusServiceUnavailable, &calls)).
		ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RedisDownFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(IdempotencyCacheKey("emp", "k1")).SetErr(errors.New("connection refused"))

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(db, idemTTL, zaptest.NewLogger(t))(countingHandler(http.StatusCreated, &calls)).
		ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()

	calls := 0
	req := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	rec := httptest.NewRecorder()
	Idempotency(db, idemTTL, zaptest.NewLogger(t))(countingHandler(http.StatusCreated, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_KeysAreScopedByActor(t *testing.T) {
	assert.NotEqual(t,
		IdempotencyCacheKey(string(empActor.ID), "k1"),
		IdempotencyCacheKey(string(leave.EmployeeID("peer")), "k1"),
	)
}

func TestRouter_SubmitIsIdempotent(t *testing.T) {
	// GIVEN: a router with Redis configured and a cached submission
	s := newTestServer(t)
	db, mock := redismock.NewClientMock()
	h := NewHandler(s.svc, s.store, zaptest.NewLogger(t))
	router := NewRouter(h, RouterConfig{JWTSecret: testSecret, CORSOrigins: []string{"*"}, Redis: db})

	cacheKey := IdempotencyCacheKey("emp", "retry-1")
	mock.ExpectGet(cacheKey).SetVal(string(storedPayload(t, http.StatusCreated, `{"id":"already"}`)))

	// WHEN: the client retries
	req := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, empActor))
	req.Header.Set(IdempotencyHeader, "retry-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// THEN: the stored response is returned and nothing new is submitted
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"already"}`, rec.Body.String())
	reqs, err := s.store.ListRequests(req.Context(), leave.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
