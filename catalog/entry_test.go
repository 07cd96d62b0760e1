package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTableSchema(t *testing.T) {
	s := BuildTableSchema()
	require.Len(t, s.Columns, 3)
	assert.Equal(t, 2, s.KeyCount)
	assert.Equal(t, TypeInt8, s.Columns[0].Type)
	assert.Equal(t, TypeString, s.Columns[1].Type)
	assert.True(t, s.Equal(BuildTableSchema()))

	other := BuildTableSchema()
	other.Columns[2].Name = "payload"
	assert.False(t, s.Equal(other))

	other = BuildTableSchema()
	other.KeyCount = 1
	assert.False(t, s.Equal(other))
}

func TestTableMetadataCodec(t *testing.T) {
	meta := &TableMetadata{Name: "users", State: "RUNNING", Version: 7}
	data, err := EncodeTableMetadata(meta)
	require.NoError(t, err)

	got, err := DecodeTableMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = DecodeTableMetadata([]byte("{not json"))
	assert.Error(t, err)
}

func TestTabletMetadataLegacyUpgrade(t *testing.T) {
	// 旧格式：分区起止键放在顶层字段
	raw := []byte(`{"table_id":"t1","version":3,"deprecated_start_key":"a","deprecated_end_key":"m"}`)
	meta, err := DecodeTabletMetadata(raw)
	require.NoError(t, err)

	require.NotNil(t, meta.Partition)
	assert.Equal(t, "a", meta.Partition.KeyStart)
	assert.Equal(t, "m", meta.Partition.KeyEnd)
	assert.Empty(t, meta.DeprecatedStartKey)
	assert.Empty(t, meta.DeprecatedEndKey)

	// 新格式原样通过
	raw = []byte(`{"table_id":"t1","version":4,"partition":{"key_start":"m","key_end":"z"}}`)
	meta, err = DecodeTabletMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, &Partition{KeyStart: "m", KeyEnd: "z"}, meta.Partition)

	// 新旧同时存在时结构化字段优先，旧字段丢弃
	raw = []byte(`{"table_id":"t1","version":5,"partition":{"key_start":"m","key_end":"z"},"deprecated_start_key":"a"}`)
	meta, err = DecodeTabletMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "m", meta.Partition.KeyStart)
	assert.Empty(t, meta.DeprecatedStartKey)

	// 升级只发生在内存表示，重新编码不再带旧字段
	data, err := EncodeTabletMetadata(meta)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "deprecated_start_key")
}
