package raft

import (
	"fmt"
	"sync/atomic"

	. "github.com/fuyao-w/common-util"
	"golang.org/x/sync/errgroup"
)

type State uint64

const (
	Follower State = iota + 1
	Candidate
	Leader
	ShutDown
)

func newState() *State {
	state := new(State)
	state.setState(Follower)
	return state
}

func (s *State) setState(newState State) {
	atomic.StoreUint64((*uint64)(s), uint64(newState))
}

func (s *State) GetState() State {
	return State(atomic.LoadUint64((*uint64)(s)))
}

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	case ShutDown:
		return "ShutDown"
	default:
		return "Unknown"
	}
}

// raftContext 状态上下文
type raftContext struct {
	currentTerm uint64
	commitIndex uint64
	lastApplied uint64

	state State
	// lastEntry 记录最后一条日志的任期和索引
	lastEntry *LockItem[lastEntry]
	// funcEg 跟踪与 Raft 相关的 goroutine
	funcEg *errgroup.Group
	// tick 每个状态所对应的循环函数
	tick func()
}

type lastEntry struct {
	lastLogIndex uint64
	lastLogTerm  uint64
}

func (r *raftContext) getLastLog() (term uint64, index uint64) {
	entry := r.lastEntry.Get()
	return entry.lastLogTerm, entry.lastLogIndex
}

func (r *raftContext) setLastLog(term uint64, index uint64) {
	r.lastEntry.Action(func(l *lastEntry) {
		l.lastLogTerm = term
		l.lastLogIndex = index
	})
}

func (r *raftContext) getLastIndex() uint64 {
	return r.lastEntry.Get().lastLogIndex
}

func (r *raftContext) getCommitIndex() uint64 {
	return atomic.LoadUint64(&r.commitIndex)
}

func (r *raftContext) getLastApplied() uint64 {
	return atomic.LoadUint64(&r.lastApplied)
}

func (r *raftContext) setLastApplied(index uint64) {
	atomic.StoreUint64(&r.lastApplied, index)
}

func (r *raftContext) goFunc(fList ...func()) {
	for _, f := range fList {
		f := f
		r.funcEg.Go(func() error {
			f()
			return nil
		})
	}
}

func (r *Raft) waitShutDown() {
	r.funcEg.Wait()
}

func (r *Raft) getCurrentTerm() uint64 {
	return atomic.LoadUint64(&r.currentTerm)
}

// setCurrentTerm 任期必须先持久化再更新内存
func (r *Raft) setCurrentTerm(term uint64) {
	if err := r.kvStorage.SetUint64(keyCurrentTerm, term); err != nil {
		panic(fmt.Errorf("failed to save current term :%w", err))
	}
	atomic.StoreUint64(&r.currentTerm, term)
}

// updateCommitIndex 提交位置持久化，重启后只重放已提交的前缀
func (r *Raft) updateCommitIndex(index uint64) {
	if err := r.kvStorage.SetUint64(keyCommittedIndex, index); err != nil {
		panic(fmt.Errorf("failed to save commit index :%w", err))
	}
	atomic.StoreUint64(&r.commitIndex, index)
}
