package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

type stubSource struct {
	mu    sync.Mutex
	calls []string

	snapshots map[string]*model.DashboardSnapshot
	err       error
	gates     map[string]chan struct{}
	started   chan string
}

func (s *stubSource) GetDashboardData(ctx context.Context, userID string) (*model.DashboardSnapshot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, userID)
	gate := s.gates[userID]
	s.mu.Unlock()

	if s.started != nil {
		s.started <- userID
	}
	if gate != nil {
		<-gate
	}

	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots[userID], nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func snapshotWithRevenue(v float64) *model.DashboardSnapshot {
	snap := model.EmptyDashboardSnapshot()
	snap.KPIs.TotalRevenue = v
	return snap
}

func TestLoad_NoUserMakesNoRequest(t *testing.T) {
	src := &stubSource{}
	l := New(src, zap.NewNop())

	st := l.Load(context.Background(), "")

	assert.False(t, st.Loading)
	assert.Nil(t, st.Data)
	assert.Empty(t, st.Error)
	assert.Equal(t, 0, src.callCount())
}

func TestLoad_Success(t *testing.T) {
	src := &stubSource{snapshots: map[string]*model.DashboardSnapshot{
		"user-42": snapshotWithRevenue(1000),
	}}
	l := New(src, zap.NewNop())

	st := l.Load(context.Background(), "user-42")

	assert.False(t, st.Loading)
	require.NotNil(t, st.Data)
	assert.Equal(t, 1000.0, st.Data.KPIs.TotalRevenue)
	assert.Empty(t, st.Error)
	assert.Equal(t, st, l.State())
}

func TestLoad_FailureSubstitutesZeroSnapshot(t *testing.T) {
	src := &stubSource{err: errors.New("connection reset by peer")}
	l := New(src, zap.NewNop())

	st := l.Load(context.Background(), "user-42")

	assert.False(t, st.Loading)
	assert.NotEmpty(t, st.Error)
	require.NotNil(t, st.Data)
	assert.Equal(t, model.EmptyDashboardSnapshot(), st.Data)
	assert.Equal(t, 0.0, st.Data.KPIs.TotalRevenue)
	assert.Equal(t, float64(36800), st.Data.VATMetrics.VATThreshold)
	assert.Empty(t, st.Data.Alerts)
	assert.Empty(t, st.Data.RecentTransactions)
	assert.Empty(t, st.Data.MonthlyData)
	assert.Empty(t, st.Data.CategoryBreakdown)
}

func TestLoad_FailureReplacesPreviousData(t *testing.T) {
	src := &stubSource{snapshots: map[string]*model.DashboardSnapshot{
		"user-42": snapshotWithRevenue(1000),
	}}
	l := New(src, zap.NewNop())

	l.Load(context.Background(), "user-42")

	src.err = errors.New("boom")
	st := l.Refresh(context.Background())

	assert.Equal(t, model.EmptyDashboardSnapshot(), st.Data)
	assert.Equal(t, ErrorMessage, st.Error)
}

func TestLoad_NilSnapshotIsNormalized(t *testing.T) {
	src := &stubSource{snapshots: map[string]*model.DashboardSnapshot{}}
	l := New(src, zap.NewNop())

	st := l.Load(context.Background(), "user-1")

	require.NotNil(t, st.Data)
	assert.NotNil(t, st.Data.Alerts)
	assert.Equal(t, float64(model.VATThreshold), st.Data.VATMetrics.VATThreshold)
}

func TestLoad_LoadingWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	src := &stubSource{
		snapshots: map[string]*model.DashboardSnapshot{"user-1": snapshotWithRevenue(1)},
		gates:     map[string]chan struct{}{"user-1": gate},
		started:   make(chan string, 1),
	}
	l := New(src, zap.NewNop())

	done := make(chan State)
	go func() {
		done <- l.Load(context.Background(), "user-1")
	}()

	<-src.started
	assert.True(t, l.State().Loading)

	close(gate)

	select {
	case st := <-done:
		assert.False(t, st.Loading)
		assert.False(t, l.State().Loading)
	case <-time.After(time.Second):
		t.Fatalf("Load did not return")
	}
}

func TestLoad_LatestIdentityWins(t *testing.T) {
	slow := make(chan struct{})
	src := &stubSource{
		snapshots: map[string]*model.DashboardSnapshot{
			"old-user": snapshotWithRevenue(1),
			"new-user": snapshotWithRevenue(2),
		},
		gates:   map[string]chan struct{}{"old-user": slow},
		started: make(chan string, 2),
	}
	l := New(src, zap.NewNop())

	oldDone := make(chan State)
	go func() {
		oldDone <- l.Load(context.Background(), "old-user")
	}()
	require.Equal(t, "old-user", <-src.started)

	st := l.Load(context.Background(), "new-user")
	<-src.started
	require.NotNil(t, st.Data)
	assert.Equal(t, 2.0, st.Data.KPIs.TotalRevenue)

	close(slow)

	select {
	case <-oldDone:
	case <-time.After(time.Second):
		t.Fatalf("superseded Load did not return")
	}

	final := l.State()
	require.NotNil(t, final.Data)
	assert.Equal(t, 2.0, final.Data.KPIs.TotalRevenue)
	assert.False(t, final.Loading)
}

func TestRefresh_RerunsLastUser(t *testing.T) {
	src := &stubSource{snapshots: map[string]*model.DashboardSnapshot{
		"user-42": snapshotWithRevenue(10),
	}}
	l := New(src, zap.NewNop())

	l.Load(context.Background(), "user-42")
	src.snapshots["user-42"] = snapshotWithRevenue(20)

	st := l.Refresh(context.Background())

	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, 20.0, st.Data.KPIs.TotalRevenue)
}

func TestRefresh_WithoutUserIsNoop(t *testing.T) {
	src := &stubSource{}
	l := New(src, zap.NewNop())

	st := l.Refresh(context.Background())

	assert.Nil(t, st.Data)
	assert.Equal(t, 0, src.callCount())
}
