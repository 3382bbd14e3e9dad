package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhizooai/sweepengine/internal/broker"
	"github.com/rhizooai/sweepengine/internal/levels"
	"github.com/rhizooai/sweepengine/internal/logging"
	"github.com/rhizooai/sweepengine/internal/market"
)

func TestHandleSnapshot_ReturnsJSONFromSnapshotFunc(t *testing.T) {
	log := logging.New(logging.Config{Level: "error"})
	s := New(log, ":0")
	s.SnapshotFunc = func() Snapshot {
		return Snapshot{
			Symbol:  "BTC/USDT",
			Price:   100,
			Metrics: market.MarketMetrics{NOFI: 0.5},
			Levels:  levels.LevelInfo{H1High: 110},
			Broker:  broker.Stats{VirtualBalance: 10000},
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "BTC/USDT", got.Symbol)
	require.InDelta(t, 100, got.Price, 1e-9)
	require.InDelta(t, 110, got.Levels.H1High, 1e-9)
}

func TestHandleSnapshot_ServiceUnavailableWithoutSnapshotFunc(t *testing.T) {
	log := logging.New(logging.Config{Level: "error"})
	s := New(log, ":0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	log := logging.New(logging.Config{Level: "error"})
	s := New(log, ":0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBroadcast_NoClientsDoesNotPanic(t *testing.T) {
	log := logging.New(logging.Config{Level: "error"})
	s := New(log, ":0")
	require.NotPanics(t, func() {
		s.Broadcast(Snapshot{Symbol: "BTC/USDT"})
	})
}
