package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/tabkv/syscat/raft"
)

var (
	schemaBucket = []byte("schema")
	groupBucket  = []byte("group")

	keySchema      = []byte("table_schema")
	keyLocalID     = []byte("local_id")
	keyGroupConfig = []byte("group_config")
)

// metaStore 组元数据：表模式、本节点身份、已提交的成员配置
type metaStore struct {
	db *bolt.DB
}

func openMetaStore(path string) (*metaStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open meta store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{schemaBucket, groupBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &metaStore{db: db}, nil
}

func (m *metaStore) Close() error {
	return m.db.Close()
}

func (m *metaStore) put(bucket, key, val []byte) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, val)
	})
}

func (m *metaStore) get(bucket, key []byte) (val []byte, ok bool, err error) {
	err = m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(key); v != nil {
			val = append(val, v...)
			ok = true
		}
		return nil
	})
	return
}

func (m *metaStore) SaveSchema(s Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.put(schemaBucket, keySchema, data)
}

func (m *metaStore) LoadSchema() (s Schema, ok bool, err error) {
	data, ok, err := m.get(schemaBucket, keySchema)
	if err != nil || !ok {
		return s, ok, err
	}
	if err = json.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("%w: undecodable schema metadata: %s", ErrCorruption, err)
	}
	return s, true, nil
}

func (m *metaStore) SaveLocalID(id raft.ServerID) error {
	return m.put(groupBucket, keyLocalID, []byte(id))
}

func (m *metaStore) LoadLocalID() (raft.ServerID, bool, error) {
	data, ok, err := m.get(groupBucket, keyLocalID)
	return raft.ServerID(data), ok, err
}

func (m *metaStore) SaveGroupConfig(c raft.GroupConfig) error {
	return m.put(groupBucket, keyGroupConfig, raft.EncodeGroupConfig(c))
}

func (m *metaStore) LoadGroupConfig() (c raft.GroupConfig, ok bool, err error) {
	data, ok, err := m.get(groupBucket, keyGroupConfig)
	if err != nil || !ok {
		return c, ok, err
	}
	if err = json.Unmarshal(data, &c); err != nil {
		return c, false, fmt.Errorf("%w: undecodable group config: %s", ErrCorruption, err)
	}
	return c, true, nil
}
