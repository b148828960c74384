package database

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOrUpdateHost(t *testing.T) {
	s := newTestStore(t)

	// 1. 新增主机
	ip := "127.0.0.1"
	hostID, err := s.AddOrUpdateHost(ip, "High-Performance")
	require.NoError(t, err)
	assert.NotZero(t, hostID)

	host, err := s.GetHostByIP(ip)
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, ip, host.IPAddress)
	assert.Equal(t, "High-Performance", host.Performance)
	assert.True(t, host.IsAlive)
	assert.False(t, host.FirstSeen.IsZero())

	// 2. 更新同一主机
	updatedID, err := s.AddOrUpdateHostWithStatus(ip, "Mid-Range", false)
	require.NoError(t, err)
	assert.Equal(t, hostID, updatedID, "should return the same host ID when updating")

	updated, err := s.GetHostByIP(ip)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "Mid-Range", updated.Performance)
	assert.False(t, updated.IsAlive)
	assert.Equal(t, hostID, updated.ID)
}

func TestAddOrUpdateHostKeepsIdentity(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AddOrUpdateHost("192.168.1.20", "Low-End")
	require.NoError(t, err)
	for _, perf := range []string{"Mid-Range", "High-Performance", "Low-End"} {
		id, err := s.AddOrUpdateHost("192.168.1.20", perf)
		require.NoError(t, err)
		assert.Equal(t, first, id)
	}

	hosts, total, err := s.ListHosts(HostFilter{Status: "all"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, hosts, 1)
	assert.Equal(t, "Low-End", hosts[0].Performance)
}

func TestAddOrUpdateHostTrimsIP(t *testing.T) {
	s := newTestStore(t)

	a, err := s.AddOrUpdateHost("10.9.9.9", "Mid-Range")
	require.NoError(t, err)
	b, err := s.AddOrUpdateHost("  10.9.9.9 ", "Mid-Range")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAddOrUpdateHostRejectsEmptyIP(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddOrUpdateHost("", "Mid-Range")
	assert.ErrorIs(t, err, ErrEmptyIP)
	_, err = s.AddOrUpdateHostWithStatus("   ", "Mid-Range", true)
	assert.ErrorIs(t, err, ErrEmptyIP)
}

func TestAddOrUpdateHostPreservesLivenessWhenOmitted(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddOrUpdateHost("10.0.0.3", "Mid-Range")
	require.NoError(t, err)
	ok, err := s.MarkHostAsDead(id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.AddOrUpdateHost("10.0.0.3", "High-Performance")
	require.NoError(t, err)
	h, err := s.GetHostByIP("10.0.0.3")
	require.NoError(t, err)
	assert.False(t, h.IsAlive, "omitted status keeps the stored value")
	assert.Equal(t, "High-Performance", h.Performance)

	// dead -> alive 需要显式状态
	_, err = s.AddOrUpdateHostWithStatus("10.0.0.3", "High-Performance", true)
	require.NoError(t, err)
	h, err = s.GetHostByIP("10.0.0.3")
	require.NoError(t, err)
	assert.True(t, h.IsAlive)
}

func TestGetHostByIPNotFound(t *testing.T) {
	s := newTestStore(t)

	h, err := s.GetHostByIP("203.0.113.1")
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = s.GetHostByID(4242)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestGetHostByID(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddOrUpdateHost("10.0.0.4", "Low-End")
	require.NoError(t, err)
	h, err := s.GetHostByID(id)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "10.0.0.4", h.IPAddress)
}

func TestMarkHostAsDead(t *testing.T) {
	s := newTestStore(t)

	otherID, err := s.AddOrUpdateHost("10.0.0.5", "Test-Performance")
	require.NoError(t, err)
	hostID, err := s.AddOrUpdateHost("10.0.0.1", "Test-Performance")
	require.NoError(t, err)

	ok, err := s.MarkHostAsDead(hostID)
	require.NoError(t, err)
	assert.True(t, ok)

	host, err := s.GetHostByIP("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, host.IsAlive)

	other, err := s.GetHostByID(otherID)
	require.NoError(t, err)
	assert.True(t, other.IsAlive, "other hosts must not change")
}

func TestMarkHostAsDeadUnknownIDIsNoop(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.MarkHostAsDead(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListHostsFilterAndPaging(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 5; i++ {
		id, err := s.AddOrUpdateHost(fmt.Sprintf("192.168.0.%d", i), "Mid-Range")
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = s.MarkHostAsDead(id)
			require.NoError(t, err)
		}
	}

	alive, total, err := s.ListHosts(HostFilter{Status: "alive"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, alive, 3)
	for _, h := range alive {
		assert.True(t, h.IsAlive)
	}

	dead, total, err := s.ListHosts(HostFilter{Status: "dead"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, dead, 2)

	page, total, err := s.ListHosts(HostFilter{Status: "all", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)
}

func TestAddOrUpdateHostConcurrentSameIP(t *testing.T) {
	s := newTestStore(t)

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.AddOrUpdateHost("10.10.10.10", fmt.Sprintf("perf-%d", i))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	_, total, err := s.ListHosts(HostFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
