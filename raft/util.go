package raft

import (
	crand "crypto/rand"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	. "github.com/fuyao-w/common-util"
)

func init() {
	rand.Seed(newSeed())
}

func newSeed() int64 {
	r, err := crand.Int(crand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		panic(fmt.Errorf("failed to read random bytes :%s", err))
	}
	return r.Int64()
}

// AtomicVal 原子读写任意类型的值，零值可用，Load 在首次 Store 前返回零值
type AtomicVal[T any] struct {
	val atomic.Value
}

func NewAtomicVal[T any]() *AtomicVal[T] {
	return new(AtomicVal[T])
}

func (a *AtomicVal[T]) Store(t T) {
	a.val.Store(t)
}

func (a *AtomicVal[T]) Load() (t T) {
	if v := a.val.Load(); v != nil {
		t = v.(T)
	}
	return
}

type Tuple[A, B any] struct {
	A A
	B B
}

func BuildTuple[A, B any](a A, b B) Tuple[A, B] {
	return Tuple[A, B]{A: a, B: b}
}

// shutDown 处理关机逻辑，C 关闭后所有循环退出
type shutDown struct {
	state *LockItem[bool]
	C     chan struct{}
}

func newShutDown() shutDown {
	return shutDown{
		state: NewLockItem[bool](),
		C:     make(chan struct{}),
	}
}

func (s *shutDown) done(act func(oldState bool)) {
	s.state.Action(func(t *bool) {
		oldState := *t
		if !oldState {
			*t = true
			close(s.C)
		}
		if act != nil {
			act(oldState)
		}
	})
}

// GenerateUUID 生成节点的永久身份标识
func GenerateUUID() string {
	var buf = make([]byte, 1<<4)
	if _, err := crand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes :%s", err))
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:],
	)
}

// randomTimeout 返回 t 到 2 x t 时间的随机时间
func randomTimeout(t time.Duration) <-chan time.Time {
	if t == 0 {
		return nil
	}
	return time.After(t + time.Duration(rand.Int63())%t)
}

// asyncNotify 不阻塞的给 chan 发送一个信号，并返回是否发送成功
func asyncNotify(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// sortSlice 小 -> 大
func sortSlice[S ~uint64](s []S) {
	sort.Slice(s, func(i, j int) bool {
		return s[i] < s[j]
	})
}
