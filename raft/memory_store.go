package raft

import (
	. "github.com/fuyao-w/common-util"
	"github.com/fuyao-w/deepcopy"
)

type memLog struct {
	firstIndex, lastIndex uint64
	log                   map[uint64]*LogEntry
}

// MemoryStore 内存实现的 LogStore + KVStorage，只用于测试
type MemoryStore struct {
	kv  *LockItem[map[string]interface{}]
	log *LockItem[memLog]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv: NewLockItem(map[string]interface{}{}),
		log: NewLockItem(memLog{
			log: map[uint64]*LogEntry{},
		}),
	}
}

func (m *MemoryStore) Get(key string) (val string, err error) {
	m.kv.Action(func(t *map[string]interface{}) {
		if v, ok := (*t)[key]; ok {
			val = v.(string)
		} else {
			err = ErrKeyNotFound
		}
	})
	return
}

func (m *MemoryStore) Set(key string, val string) error {
	m.kv.Action(func(t *map[string]interface{}) {
		(*t)[key] = val
	})
	return nil
}

func (m *MemoryStore) SetUint64(key string, val uint64) error {
	m.kv.Action(func(t *map[string]interface{}) {
		(*t)[key] = val
	})
	return nil
}

func (m *MemoryStore) GetUint64(key string) (val uint64, err error) {
	m.kv.Action(func(t *map[string]interface{}) {
		if v, ok := (*t)[key]; ok {
			val = v.(uint64)
		} else {
			err = ErrKeyNotFound
		}
	})
	return
}

func (m *MemoryStore) FirstIndex() (uint64, error) {
	var idx uint64
	m.log.Action(func(t *memLog) {
		idx = t.firstIndex
	})
	return idx, nil
}

func (m *MemoryStore) LastIndex() (uint64, error) {
	var idx uint64
	m.log.Action(func(t *memLog) {
		idx = t.lastIndex
	})
	return idx, nil
}

func (m *MemoryStore) GetLog(index uint64) (log *LogEntry, err error) {
	m.log.Action(func(t *memLog) {
		l, ok := t.log[index]
		if ok {
			log = deepcopy.Copy(l).(*LogEntry)
		} else {
			err = ErrNotFoundLog
		}
	})
	return
}

func (m *MemoryStore) GetLogRange(from, to uint64) (logs []*LogEntry, err error) {
	m.log.Action(func(t *memLog) {
		for i := from; i <= to; i++ {
			l, ok := t.log[i]
			if !ok {
				err = ErrNotFoundLog
				return
			}
			logs = append(logs, deepcopy.Copy(l).(*LogEntry))
		}
	})
	return
}

func (m *MemoryStore) SetLogs(logs []*LogEntry) error {
	m.log.Action(func(t *memLog) {
		for _, entry := range logs {
			t.log[entry.Index] = deepcopy.Copy(entry).(*LogEntry)
			if t.firstIndex == 0 {
				t.firstIndex = entry.Index
			}
			if entry.Index > t.lastIndex {
				t.lastIndex = entry.Index
			}
		}
	})
	return nil
}

func (m *MemoryStore) DeleteRange(min, max uint64) error {
	m.log.Action(func(t *memLog) {
		for i := min; i <= max; i++ {
			delete(t.log, i)
		}
		if min <= t.firstIndex {
			t.firstIndex = max + 1
		}
		if max >= t.lastIndex {
			t.lastIndex = min - 1
		}
		if t.firstIndex > t.lastIndex {
			t.firstIndex = 0
			t.lastIndex = 0
		}
	})
	return nil
}
