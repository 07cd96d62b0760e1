package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabkv/syscat/raft"
)

func applyOps(t *testing.T, store *TableStore, index uint64, ops ...RowOp) *WriteResponse {
	data, err := EncodeWriteRequest(&WriteRequest{GroupID: GroupID, Ops: ops})
	require.NoError(t, err)
	result := store.Apply(&raft.LogEntry{Index: index, Type: raft.LogCommand, Data: data})
	resp, ok := result.(*WriteResponse)
	require.True(t, ok, "unexpected apply result %T", result)
	return resp
}

func TestTableStoreApply(t *testing.T) {
	store := NewTableStore()

	resp := applyOps(t, store, 1,
		RowOp{Kind: OpInsert, Type: EntryTable, ID: "t1", Metadata: []byte(`{"name":"users"}`)},
		RowOp{Kind: OpInsert, Type: EntryTablet, ID: "p1", Metadata: []byte(`{"table_id":"t1"}`)},
	)
	assert.Equal(t, uint64(1), resp.Index)
	assert.Empty(t, resp.PerRowErrors)
	assert.Equal(t, 2, store.Len())

	metadata, ok := store.Get(EntryTable, "t1")
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"users"}`, string(metadata))

	// 行级失败不拒绝整个请求，其余操作照常生效
	resp = applyOps(t, store, 2,
		RowOp{Kind: OpInsert, Type: EntryTable, ID: "t1", Metadata: []byte(`{"name":"dup"}`)},
		RowOp{Kind: OpUpdate, Type: EntryTable, ID: "missing", Metadata: []byte(`{}`)},
		RowOp{Kind: OpDelete, Type: EntryTablet, ID: "nope"},
		RowOp{Kind: OpInsert, Type: EntryTable, ID: "t2", Metadata: []byte(`{"name":"orders"}`)},
	)
	require.Len(t, resp.PerRowErrors, 3)
	assert.Equal(t, "t1", resp.PerRowErrors[0].ID)
	assert.Equal(t, 3, store.Len())

	// 原有行未被重复插入覆盖
	metadata, _ = store.Get(EntryTable, "t1")
	assert.JSONEq(t, `{"name":"users"}`, string(metadata))

	resp = applyOps(t, store, 3,
		RowOp{Kind: OpUpdate, Type: EntryTable, ID: "t2", Metadata: []byte(`{"name":"orders","version":2}`)},
		RowOp{Kind: OpDelete, Type: EntryTablet, ID: "p1"},
	)
	assert.Empty(t, resp.PerRowErrors)
	assert.Equal(t, 2, store.Len())
	_, ok = store.Get(EntryTablet, "p1")
	assert.False(t, ok)
}

func TestTableStoreApplyUndecodable(t *testing.T) {
	store := NewTableStore()
	result := store.Apply(&raft.LogEntry{Index: 1, Type: raft.LogCommand, Data: []byte("??")})
	err, ok := result.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, store.Len())
}

func TestTableStoreRowsOrder(t *testing.T) {
	store := NewTableStore()
	applyOps(t, store, 1,
		RowOp{Kind: OpInsert, Type: EntryTablet, ID: "b", Metadata: []byte(`{"table_id":"t"}`)},
		RowOp{Kind: OpInsert, Type: EntryTable, ID: "z", Metadata: []byte(`{}`)},
		RowOp{Kind: OpInsert, Type: EntryTable, ID: "a", Metadata: []byte(`{}`)},
		RowOp{Kind: OpInsert, Type: EntryTablet, ID: "a", Metadata: []byte(`{"table_id":"t"}`)},
	)

	rows := store.Rows()
	require.Len(t, rows, 4)
	// 按 (类型, id) 升序，表在前
	assert.Equal(t, EntryTable, rows[0].Type)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "z", rows[1].ID)
	assert.Equal(t, EntryTablet, rows[2].Type)
	assert.Equal(t, "a", rows[2].ID)
	assert.Equal(t, "b", rows[3].ID)

	var tables []string
	err := store.scanType(EntryTable, func(id string, metadata []byte) error {
		tables = append(tables, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, tables)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.PutTable("t1", &TableMetadata{Name: "users"})
	reg.PutTablet("p1", &TabletMetadata{TableID: "t1"})
	reg.PutTablet("p2", &TabletMetadata{TableID: "t1"})

	meta, ok := reg.Table("t1")
	require.True(t, ok)
	assert.Equal(t, "users", meta.Name)

	tableID, ok := reg.TableOfTablet("p2")
	require.True(t, ok)
	assert.Equal(t, "t1", tableID)
	assert.ElementsMatch(t, []string{"p1", "p2"}, reg.TabletsOfTable("t1"))

	// 迁移所属表后反向索引跟着换
	reg.PutTablet("p2", &TabletMetadata{TableID: "t2"})
	assert.ElementsMatch(t, []string{"p1"}, reg.TabletsOfTable("t1"))

	reg.RemoveTablet("p1")
	assert.Empty(t, reg.TabletsOfTable("t1"))
	assert.Equal(t, 1, reg.TabletCount())

	reg.Reset()
	assert.Zero(t, reg.TableCount())
	assert.Zero(t, reg.TabletCount())
}

type recordLogger struct {
	raft.Logger
	errors []string
}

func (r *recordLogger) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, format)
}

func TestStoreConfigurationPersistError(t *testing.T) {
	opts := singleNodeOptions(t.TempDir())
	meta, err := openMetaStore(opts.metaPath())
	require.NoError(t, err)

	logger := &recordLogger{}
	store := NewTableStore()
	store.meta = meta
	store.logger = logger

	conf := raft.GroupConfig{Servers: []raft.ServerInfo{
		{ID: "id-0", Addr: opts.LocalAddr, Suffrage: raft.Voter},
	}}
	store.StoreConfiguration(3, conf)
	require.Empty(t, logger.errors)

	saved, ok, err := meta.LoadGroupConfig()
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, saved.OpIDIndex)

	// 底层存储关掉后持久化失败，只打日志不崩溃
	require.NoError(t, meta.Close())
	store.StoreConfiguration(4, conf)
	assert.NotEmpty(t, logger.errors)
}
