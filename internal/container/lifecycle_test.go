package container

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	healthy  error
}

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.rec.add("start:" + f.name)
	return nil
}

func (f *fakeComponent) Stop() error {
	f.rec.add("stop:" + f.name)
	return f.stopErr
}

func (f *fakeComponent) Health() error { return f.healthy }

func TestLifecycleStartStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewLifecycleManager()
	for _, n := range []string{"status", "feed", "transport"} {
		m.Register(n, &fakeComponent{name: n, rec: rec})
	}

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{
		"start:status", "start:feed", "start:transport",
		"stop:transport", "stop:feed", "stop:status",
	}, rec.events)
	assert.Equal(t, []string{"status", "feed", "transport"}, m.Names())
}

func TestLifecycleRollbackOnStartFailure(t *testing.T) {
	rec := &recorder{}
	m := NewLifecycleManager()
	m.Register("status", &fakeComponent{name: "status", rec: rec})
	m.Register("feed", &fakeComponent{name: "feed", rec: rec})
	m.Register("transport", &fakeComponent{name: "transport", rec: rec, startErr: errors.New("dial failed")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start transport failed")
	assert.Equal(t, []string{"start:status", "start:feed", "stop:feed", "stop:status"}, rec.events)

	// 回滚后 StopAll 不再重复停止
	require.NoError(t, m.StopAll())
	assert.Len(t, rec.events, 4)
}

func TestLifecycleStopCollectsErrors(t *testing.T) {
	rec := &recorder{}
	m := NewLifecycleManager()
	m.Register("a", &fakeComponent{name: "a", rec: rec, stopErr: errors.New("a broke")})
	m.Register("b", &fakeComponent{name: "b", rec: rec, stopErr: errors.New("b broke")})

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a broke")
	assert.Contains(t, err.Error(), "b broke")
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, rec.events)
}

func TestLifecycleHealth(t *testing.T) {
	rec := &recorder{}
	m := NewLifecycleManager()
	m.Register("ok", &fakeComponent{name: "ok", rec: rec})
	m.Register("bad", &fakeComponent{name: "bad", rec: rec, healthy: errors.New("down")})

	err := m.CheckHealth()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component bad unhealthy")
}

// connectedComponent 断线时 Health 报错，但循环仍在运行
type connectedComponent struct {
	fakeComponent
	running error
}

func (c *connectedComponent) Alive() error { return c.running }

func TestLifecycleAliveIgnoresVenueOutage(t *testing.T) {
	rec := &recorder{}
	m := NewLifecycleManager()
	m.Register("status", &fakeComponent{name: "status", rec: rec})
	transport := &connectedComponent{fakeComponent: fakeComponent{name: "transport", rec: rec, healthy: errors.New("rtds not connected")}}
	m.Register("transport", transport)

	assert.Error(t, m.CheckHealth())
	assert.NoError(t, m.CheckAlive())

	transport.running = errors.New("not running")
	err := m.CheckAlive()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component transport not alive")

	// 没有 Alive 的组件退回 Health
	m.Register("feed", &fakeComponent{name: "feed", rec: rec, healthy: errors.New("stopped")})
	transport.running = nil
	assert.Error(t, m.CheckAlive())
}
