package catalog

import (
	"sync"

	"github.com/google/btree"

	"github.com/tabkv/syscat/raft"
)

type row struct {
	typ      EntryType
	id       string
	metadata []byte
}

func (r *row) Less(than btree.Item) bool {
	other := than.(*row)
	if r.typ != other.typ {
		return r.typ < other.typ
	}
	return r.id < other.id
}

// RowData 行的只读拷贝，测试比较副本一致性用
type RowData struct {
	Type     EntryType
	ID       string
	Metadata string
}

// TableStore 内存里的目录表，(entry_type, entry_id) 有序索引。
// 作为复制状态机使用：所有行变更都来自已提交的日志记录。
// mu 是组级别的逻辑锁，写入和扫描都要持有它
type TableStore struct {
	mu   sync.RWMutex
	tree *btree.BTree
	// meta 为空时已提交的配置不做持久化，纯内存测试场景
	meta   *metaStore
	logger raft.Logger
}

func NewTableStore() *TableStore {
	return &TableStore{
		tree: btree.New(32),
	}
}

// GroupLock 暴露组锁给上层和测试，扫描在读锁下执行
func (s *TableStore) GroupLock() *sync.RWMutex {
	return &s.mu
}

// Apply 实现 raft.FSM，逐行应用已提交的变更批次。
// 行级失败记录在响应里，不影响同批次的其他行；
// 无法解码的记录整体失败，不产生任何行变更
func (s *TableStore) Apply(entry *raft.LogEntry) interface{} {
	req, err := DecodeWriteRequest(entry.Data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &WriteResponse{Index: entry.Index}
	for _, op := range req.Ops {
		if rowErr := s.applyOp(op); rowErr != nil {
			resp.PerRowErrors = append(resp.PerRowErrors, *rowErr)
		}
	}
	return resp
}

func (s *TableStore) applyOp(op RowOp) *RowError {
	key := &row{typ: op.Type, id: op.ID}
	exists := s.tree.Has(key)
	switch op.Kind {
	case OpInsert:
		if exists {
			return &RowError{Type: op.Type, ID: op.ID, Msg: "entry already present"}
		}
		s.tree.ReplaceOrInsert(&row{typ: op.Type, id: op.ID, metadata: op.Metadata})
	case OpUpdate:
		if !exists {
			return &RowError{Type: op.Type, ID: op.ID, Msg: "entry not found"}
		}
		s.tree.ReplaceOrInsert(&row{typ: op.Type, id: op.ID, metadata: op.Metadata})
	case OpDelete:
		if !exists {
			return &RowError{Type: op.Type, ID: op.ID, Msg: "entry not found"}
		}
		s.tree.Delete(key)
	}
	return nil
}

// StoreConfiguration 实现 raft.ConfigurationStore，
// 已提交的成员配置持久化到组元数据里
func (s *TableStore) StoreConfiguration(index uint64, configuration raft.GroupConfig) {
	if s.meta == nil {
		return
	}
	if configuration.OpIDIndex <= 0 {
		configuration.OpIDIndex = int64(index)
	}
	// 持久化失败时继续使用内存里的配置，下次提交会重写
	if err := s.meta.SaveGroupConfig(configuration); err != nil && s.logger != nil {
		s.logger.Errorf("save group config at index %d failed: %s", index, err)
	}
}

// scanType 对指定条目类型做等值过滤的全表扫描，回调返回错误则中断
func (s *TableStore) scanType(t EntryType, fn func(id string, metadata []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var err error
	s.tree.AscendRange(&row{typ: t}, &row{typ: t + 1}, func(item btree.Item) bool {
		r := item.(*row)
		err = fn(r.id, r.metadata)
		return err == nil
	})
	return err
}

func (s *TableStore) Get(t EntryType, id string) (metadata []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(&row{typ: t, id: id})
	if item == nil {
		return nil, false
	}
	return item.(*row).metadata, true
}

func (s *TableStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Rows 按键序返回全部行的拷贝
func (s *TableStore) Rows() (rows []RowData) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tree.Ascend(func(item btree.Item) bool {
		r := item.(*row)
		rows = append(rows, RowData{Type: r.typ, ID: r.id, Metadata: string(r.metadata)})
		return true
	})
	return
}
