package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	. "github.com/fuyao-w/common-util"

	"github.com/tabkv/syscat/raft"
)

// GroupID 目录复制组的公认标识，所有节点一致，请求里显式携带
const GroupID = "00000000000000000000000000000000"

const defaultWriteTimeout = 10 * time.Second

type (
	TableVisitor  func(id string, meta *TableMetadata) error
	TabletVisitor func(id string, meta *TabletMetadata) error
)

// ListenerResult 角色监听器每次回调的结果，失败不会失控传播
type ListenerResult struct {
	Role raft.State
	Term uint64
	Err  error
}

// Catalog 复制的目录表：同步写网关 + 可扫描的行存储 + 共识组
type Catalog struct {
	opts   Options
	logger raft.Logger
	schema Schema

	store    *TableStore
	meta     *metaStore
	wal      *raft.BoltStore
	raft     *raft.Raft
	registry *Registry

	failFraction *raft.AtomicVal[float64]
	// initialized 为真时 leader 回调失败是致命的
	initialized  *raft.AtomicVal[bool]
	lastListener *LockItem[ListenerResult]
	listenerID   uint64

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

func (c *Catalog) Raft() *raft.Raft {
	return c.raft
}

func (c *Catalog) Store() *TableStore {
	return c.store
}

func (c *Catalog) Registry() *Registry {
	return c.registry
}

func (c *Catalog) LocalID() raft.ServerID {
	return c.opts.LocalID
}

// SetFailWriteFraction 让 SyncWrite 以给定概率在提交前注入失败
func (c *Catalog) SetFailWriteFraction(fraction float64) {
	c.failFraction.Store(fraction)
}

// SyncWrite 同步写：请求作为一条日志记录提交，
// 阻塞直到提交且应用到本地行存储后才返回。
// 行级失败放在成功的响应里，请求级失败整体返回错误
func (c *Catalog) SyncWrite(req *WriteRequest, timeout time.Duration) (*WriteResponse, error) {
	if fraction := c.failFraction.Load(); fraction > 0 && rand.Float64() < fraction {
		return nil, fmt.Errorf("writing to system catalog: %w", ErrInjectedFailure)
	}
	if req.GroupID != GroupID {
		return nil, fmt.Errorf("%w: wrong group id %q, expected %q", ErrInvalidArgument, req.GroupID, GroupID)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	// 角色检查在复制之前，非 leader 不产生任何日志记录
	if c.raft.State() != raft.Leader {
		return nil, raft.ErrNotLeader
	}
	data, err := EncodeWriteRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	result, err := c.raft.Apply(data, timeout).Response()
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case *WriteResponse:
		for _, rowErr := range v.PerRowErrors {
			c.logger.Warnf("row error in catalog write ,type :%s ,id :%s ,msg :%s", rowErr.Type, rowErr.ID, rowErr.Msg)
		}
		return v, nil
	case error:
		return nil, v
	default:
		return nil, fmt.Errorf("unexpected apply result type %T", result)
	}
}

// SyncWriteEncoded 提交已编码的请求，无法解码的负载在提交前整体拒绝
func (c *Catalog) SyncWriteEncoded(data []byte, timeout time.Duration) (*WriteResponse, error) {
	req, err := DecodeWriteRequest(data)
	if err != nil {
		return nil, err
	}
	return c.SyncWrite(req, timeout)
}

// Write 组装并提交一次目录变更
func (c *Catalog) Write(actions *Actions) (*WriteResponse, error) {
	req, err := actions.BuildRequest()
	if err != nil {
		return nil, err
	}
	return c.SyncWrite(req, defaultWriteTimeout)
}

// VisitTables 全表扫描所有表条目，任何一行解码失败整个扫描失败
func (c *Catalog) VisitTables(v TableVisitor) error {
	return c.store.scanType(EntryTable, func(id string, metadata []byte) error {
		meta, err := DecodeTableMetadata(metadata)
		if err != nil {
			return fmt.Errorf("%w: table %s: %s", ErrCorruption, id, err)
		}
		return v(id, meta)
	})
}

func (c *Catalog) VisitTablets(v TabletVisitor) error {
	return c.store.scanType(EntryTablet, func(id string, metadata []byte) error {
		meta, err := DecodeTabletMetadata(metadata)
		if err != nil {
			return fmt.Errorf("%w: tablet %s: %s", ErrCorruption, id, err)
		}
		return v(id, meta)
	})
}

// RebuildRegistry 从当前行存储重建表与 tablet 的关系索引
func (c *Catalog) RebuildRegistry() error {
	c.registry.Reset()
	if err := c.VisitTables(func(id string, meta *TableMetadata) error {
		c.registry.PutTable(id, meta)
		return nil
	}); err != nil {
		return err
	}
	return c.VisitTablets(func(id string, meta *TabletMetadata) error {
		c.registry.PutTablet(id, meta)
		return nil
	})
}

// WaitUntilRunning 阻塞直到共识子系统可用，周期性打印等待日志
func (c *Catalog) WaitUntilRunning(timeout time.Duration) error {
	var (
		start = time.Now()
		slice = time.Second
	)
	for attempt := 1; ; attempt++ {
		remain := slice
		if timeout > 0 {
			if elapsed := time.Since(start); elapsed >= timeout {
				return raft.ErrTimeout
			} else if timeout-elapsed < remain {
				remain = timeout - elapsed
			}
		}
		err := c.raft.WaitUntilRunning(remain)
		if err == nil {
			return nil
		}
		if errors.Is(err, raft.ErrShutDown) {
			return err
		}
		c.logger.Infof("waiting for catalog consensus to start (attempt %d)", attempt)
	}
}

// LastListenerResult 最近一次角色回调的结果
func (c *Catalog) LastListenerResult() ListenerResult {
	return c.lastListener.Get()
}

// runRoleListener 消费角色变更事件，获得领导权时运行注册的回调。
// 回调失败在目录仍处于已初始化状态时是致命的
func (c *Catalog) runRoleListener(ch <-chan raft.RoleChange) {
	defer c.wg.Done()
	for {
		select {
		case <-c.shutdownCh:
			return
		case event := <-ch:
			c.logger.Infof("catalog role changed ,role :%s ,term :%d", event.Role, event.Term)
			if event.Role != raft.Leader {
				continue
			}
			result := ListenerResult{Role: event.Role, Term: event.Term}
			if cb := c.opts.LeaderCallback; cb != nil {
				result.Err = cb()
			}
			c.lastListener.Set(result)
			if result.Err != nil {
				if c.initialized.Load() {
					panic(fmt.Errorf("catalog leader callback failed: %w", result.Err))
				}
				c.logger.Warnf("leader callback failed during shutdown :%s", result.Err)
			}
		}
	}
}

func (c *Catalog) Shutdown() error {
	var err error
	c.shutdownOnce.Do(func() {
		c.initialized.Store(false)
		close(c.shutdownCh)
		c.raft.UnsubscribeRoleChange(c.listenerID)
		_, err = c.raft.ShutDown().Response()
		c.wg.Wait()
		if cErr := c.wal.Close(); err == nil {
			err = cErr
		}
		if cErr := c.meta.Close(); err == nil {
			err = cErr
		}
	})
	return err
}
