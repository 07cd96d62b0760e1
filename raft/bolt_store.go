package raft

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boltdb/bolt"
)

var (
	logsBucket   = []byte("logs")
	stableBucket = []byte("stable")
)

// BoltStore 基于 boltdb 的持久化存储，同时实现 LogStore 和 KVStorage
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	store := &BoltStore{db: db}
	if err = store.initBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (b *BoltStore) initBuckets() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logsBucket, stableBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func uint64ToBytes(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func bytesToUint64(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func (b *BoltStore) Get(key string) (val string, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stableBucket).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		val = string(v)
		return nil
	})
	return
}

func (b *BoltStore) Set(key string, val string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stableBucket).Put([]byte(key), []byte(val))
	})
}

func (b *BoltStore) SetUint64(key string, val uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stableBucket).Put([]byte(key), uint64ToBytes(val))
	})
}

func (b *BoltStore) GetUint64(key string) (val uint64, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stableBucket).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		val = bytesToUint64(v)
		return nil
	})
	return
}

func (b *BoltStore) FirstIndex() (idx uint64, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(logsBucket).Cursor()
		if key, _ := cur.First(); key != nil {
			idx = bytesToUint64(key)
		}
		return nil
	})
	return
}

func (b *BoltStore) LastIndex() (idx uint64, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(logsBucket).Cursor()
		if key, _ := cur.Last(); key != nil {
			idx = bytesToUint64(key)
		}
		return nil
	})
	return
}

func (b *BoltStore) GetLog(index uint64) (log *LogEntry, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(logsBucket).Get(uint64ToBytes(index))
		if val == nil {
			return ErrNotFoundLog
		}
		var entry LogEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		log = &entry
		return nil
	})
	return
}

func (b *BoltStore) GetLogRange(from, to uint64) (logs []*LogEntry, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(logsBucket).Cursor()
		minKey := uint64ToBytes(from)
		for key, val := cur.Seek(minKey); key != nil; key, val = cur.Next() {
			if bytesToUint64(key) > to {
				break
			}
			var entry LogEntry
			if err := json.Unmarshal(val, &entry); err != nil {
				return err
			}
			logs = append(logs, &entry)
		}
		if uint64(len(logs)) != to-from+1 {
			return ErrNotFoundLog
		}
		return nil
	})
	return
}

func (b *BoltStore) SetLogs(logs []*LogEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		for _, entry := range logs {
			val, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err = bucket.Put(uint64ToBytes(entry.Index), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) DeleteRange(min, max uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		cur := tx.Bucket(logsBucket).Cursor()
		for key, _ := cur.Seek(uint64ToBytes(min)); key != nil; key, _ = cur.Next() {
			if bytesToUint64(key) > max {
				break
			}
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasExistingState 判断存储中是否已有任期或日志，用于防止重复引导
func HasExistingState(logStore LogStore, kvStorage KVStorage) (bool, error) {
	term, err := kvStorage.GetUint64(keyCurrentTerm)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return false, err
	}
	if term > 0 {
		return true, nil
	}
	lastIndex, err := logStore.LastIndex()
	if err != nil {
		return false, err
	}
	return lastIndex > 0, nil
}
