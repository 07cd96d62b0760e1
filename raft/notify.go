package raft

import (
	. "github.com/fuyao-w/common-util"
)

// RoleChange 角色变更事件，每次真实状态切换仅触发一次，
// 同角色的重复宣告不会产生事件
type RoleChange struct {
	Role State
	Term uint64
}

// roleNotifier 提供发布、订阅角色变更的能力，慢的订阅者不会阻塞主循环：
// 投递时丢弃其通道中最旧的事件
type roleNotifier struct {
	observers *LockItem[map[uint64]chan RoleChange]
	nextID    *LockItem[uint64]
	lastRole  *LockItem[State]
}

func newRoleNotifier() roleNotifier {
	return roleNotifier{
		observers: NewLockItem(map[uint64]chan RoleChange{}),
		nextID:    NewLockItem[uint64](),
		lastRole:  NewLockItem[State](),
	}
}

// SubscribeRoleChange 注册一个角色变更订阅者，通道带缓冲，
// 取消订阅使用返回的 id
func (r *Raft) SubscribeRoleChange() (id uint64, ch <-chan RoleChange) {
	c := make(chan RoleChange, 8)
	r.roleNotify.nextID.Action(func(t *uint64) {
		*t++
		id = *t
	})
	r.roleNotify.observers.Action(func(t *map[uint64]chan RoleChange) {
		(*t)[id] = c
	})
	return id, c
}

func (r *Raft) UnsubscribeRoleChange(id uint64) {
	r.roleNotify.observers.Action(func(t *map[uint64]chan RoleChange) {
		delete(*t, id)
	})
}

// notifyRoleChange 发布事件，同角色重复设置直接忽略
func (n *roleNotifier) notifyRoleChange(role State, term uint64) {
	var skip bool
	n.lastRole.Action(func(t *State) {
		if *t == role {
			skip = true
			return
		}
		*t = role
	})
	if skip {
		return
	}
	event := RoleChange{Role: role, Term: term}
	var observers []chan RoleChange
	n.observers.Action(func(t *map[uint64]chan RoleChange) {
		for _, ch := range *t {
			observers = append(observers, ch)
		}
	})
	for _, ch := range observers {
		select {
		case ch <- event:
		default:
			// 订阅者没有及时消费，丢弃最旧的事件再投递
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}
