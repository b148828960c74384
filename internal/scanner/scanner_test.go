package scanner

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
)

const tagsBody = `{"models":[
	{"name":"llama3:latest","modified_at":"2024-05-01T10:00:00Z","details":{"parameter_size":"8B","quantization_level":"Q4_0"}},
	{"name":"codellama:7b","modified_at":"","details":{"parameter_size":"7B","quantization_level":"Q4_K_M"}}
]}`

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func newOllamaServer(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tagsBody))
	})
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"0.1.48"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return srv, port
}

// closedPort 返回一个当前无人监听的本地端口
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanHostRegistersAliveHostWithModels(t *testing.T) {
	_, port := newOllamaServer(t)
	store := newTestStore(t)
	rec := &recorder{}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	s := NewScanner(store, Options{OllamaPort: port, Timeout: time.Second, Publisher: rec, Metrics: m})
	res, err := s.ScanHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Alive)
	assert.Equal(t, 2, res.ModelCount)
	assert.Equal(t, "0.1.48", res.Version)

	host, err := store.GetHostByIP("127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, res.HostID, host.ID)
	assert.True(t, host.IsAlive)
	assert.Equal(t, res.Performance, host.Performance)

	models, err := store.GetModelsForHost(host.ID)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:latest", models[0].Name)
	assert.Equal(t, "Q4_0", models[0].QuantizationLevel)
	assert.Equal(t, database.UnknownModifiedAt, models[1].ModifiedAt)

	assert.True(t, rec.has("host_upsert"))
	assert.True(t, rec.has("models_replaced"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProbesTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ModelsStoredTotal))
}

func TestScanHostRescanReplacesModels(t *testing.T) {
	_, port := newOllamaServer(t)
	store := newTestStore(t)

	id, err := store.AddOrUpdateHost("127.0.0.1", PerfLow)
	require.NoError(t, err)
	require.NoError(t, store.AddModels(id, []database.ModelInfo{{Name: "old:1b", ModifiedAt: "x"}}))

	s := NewScanner(store, Options{OllamaPort: port, Timeout: time.Second})
	res, err := s.ScanHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, id, res.HostID)

	models, err := store.GetModelsForHost(id)
	require.NoError(t, err)
	require.Len(t, models, 2)
	for _, m := range models {
		assert.NotEqual(t, "old:1b", m.Name)
	}
}

func TestScanHostMarksKnownUnreachableHostDead(t *testing.T) {
	store := newTestStore(t)
	id, err := store.AddOrUpdateHostWithStatus("127.0.0.1", PerfHigh, true)
	require.NoError(t, err)
	require.NoError(t, store.AddModels(id, []database.ModelInfo{{Name: "llama3", ModifiedAt: "t"}}))

	rec := &recorder{}
	s := NewScanner(store, Options{OllamaPort: closedPort(t), Timeout: 500 * time.Millisecond, Publisher: rec})
	res, err := s.ScanHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Alive)
	assert.Equal(t, id, res.HostID)

	host, err := store.GetHostByID(id)
	require.NoError(t, err)
	assert.False(t, host.IsAlive)
	assert.True(t, rec.has("host_dead"))

	// 离线不删除模型记录
	n, err := store.CountModelsForHost(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanHostUnknownUnreachableHostIsNotRegistered(t *testing.T) {
	store := newTestStore(t)
	s := NewScanner(store, Options{OllamaPort: closedPort(t), Timeout: 500 * time.Millisecond})

	res, err := s.ScanHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Alive)
	assert.Zero(t, res.HostID)

	host, err := store.GetHostByIP("127.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, host)
}

func TestScanHostNonOllamaResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	store := newTestStore(t)
	s := NewScanner(store, Options{OllamaPort: port, Timeout: time.Second})
	res, err := s.ScanHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Alive)
}

func TestScanSingleAddress(t *testing.T) {
	_, port := newOllamaServer(t)
	store := newTestStore(t)
	rec := &recorder{}

	s := NewScanner(store, Options{OllamaPort: port, Timeout: time.Second, Publisher: rec})
	st, err := s.Scan(context.Background(), "127.0.0.1/32")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.ScannedCount)
	assert.Equal(t, 1, st.FoundCount)
	assert.Equal(t, 100, st.Progress)
	assert.NotEmpty(t, st.ID)
	assert.NotNil(t, st.EndTime)
	assert.True(t, rec.has("scan_started"))
	assert.True(t, rec.has("scan_done"))

	hosts, total, err := store.ListHosts(database.HostFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "127.0.0.1", hosts[0].IPAddress)
}

func TestStartScanRejectsConcurrentScan(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	s := NewScanner(newTestStore(t), Options{OllamaPort: port, Timeout: 5 * time.Second})
	id, err := s.StartScan("127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StatusRunning, s.GetScanStatus().Status)

	_, err = s.StartScan("127.0.0.1")
	assert.ErrorIs(t, err, ErrScanInProgress)

	require.NoError(t, s.StopScan())
	s.Wait()
	assert.Equal(t, StatusStopped, s.GetScanStatus().Status)

	assert.ErrorIs(t, s.StopScan(), ErrScanNotRunning)
}

func TestStartScanInvalidSubnet(t *testing.T) {
	s := NewScanner(newTestStore(t), Options{})
	_, err := s.StartScan("not-a-subnet")
	assert.Error(t, err)
	assert.Equal(t, StatusIdle, s.GetScanStatus().Status)
}

func TestWaitWithoutScanReturns(t *testing.T) {
	s := NewScanner(newTestStore(t), Options{})
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no scan running")
	}
}

func TestNewScannerDefaultsMaxHosts(t *testing.T) {
	s := NewScanner(newTestStore(t), Options{})

	_, err := s.StartScan("0.0.0.0/0")
	assert.Error(t, err)
	_, err = s.StartScan("10.0.0.0/8")
	assert.Error(t, err)
	assert.Equal(t, StatusIdle, s.GetScanStatus().Status)
}
