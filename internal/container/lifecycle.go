package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

type namedComponent struct {
	name      string
	component Lifecycle
}

// LifecycleManager 生命周期管理器：按注册顺序启动，逆序停止。
type LifecycleManager struct {
	components []namedComponent
	started    int
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件
func (m *LifecycleManager) Register(name string, component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, namedComponent{name: name, component: component})
}

// Names 已注册组件（注册顺序）
func (m *LifecycleManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.name
	}
	return names
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.components {
		if err := c.component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].component.Stop()
			}
			m.started = 0
			return fmt.Errorf("start %s failed: %w", c.name, err)
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，返回所有错误的合并
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.component.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// aliveChecker 健康状态依赖外部连接的组件另外提供只看本地循环的存活检查
type aliveChecker interface {
	Alive() error
}

// CheckAlive 进程级存活：优先用 Alive，没有时退回 Health
func (m *LifecycleManager) CheckAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		check := c.component.Health
		if a, ok := c.component.(aliveChecker); ok {
			check = a.Alive
		}
		if err := check(); err != nil {
			return fmt.Errorf("component %s not alive: %w", c.name, err)
		}
	}
	return nil
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if err := c.component.Health(); err != nil {
			return fmt.Errorf("component %s unhealthy: %w", c.name, err)
		}
	}
	return nil
}
