package order

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIllegalTransition 非法状态转换
var ErrIllegalTransition = errors.New("illegal state transition")

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 报价状态机: pending → active → {filled | cancelled}, pending → failed.
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// pending 只存在于定价成功到拿到 quote_id 之间
		{StatusPending, StatusActive},
		{StatusPending, StatusFailed},

		{StatusActive, StatusFilled},
		{StatusActive, StatusCancelled},

		// 终态不能转换（filled, cancelled, failed）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsFinalState 判断是否为终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	return status == StatusFilled || status == StatusCancelled || status == StatusFailed
}

// IsActiveState 判断是否仍占用敞口
func (sm *StateMachine) IsActiveState(status Status) bool {
	return status == StatusActive
}

// CanCancel 判断是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	return status == StatusActive
}
