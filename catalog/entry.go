package catalog

import (
	"encoding/json"
	"fmt"
)

// EntryType 目录条目类型，作为行键的首列
type EntryType int8

const (
	EntryTable EntryType = iota + 1
	EntryTablet
)

func (t EntryType) String() string {
	switch t {
	case EntryTable:
		return "table"
	case EntryTablet:
		return "tablet"
	default:
		return "unknown"
	}
}

func validEntryType(t EntryType) bool {
	return t == EntryTable || t == EntryTablet
}

// Partition 结构化的分区描述
type Partition struct {
	KeyStart string `json:"key_start"`
	KeyEnd   string `json:"key_end"`
}

type TableMetadata struct {
	Name    string `json:"name"`
	State   string `json:"state,omitempty"`
	Version uint64 `json:"version"`
}

// TabletMetadata 的 TableID 是对所属表的非持有引用。
// 旧格式把分区起止键直接放在顶层字段里，解码时升级为 Partition
type TabletMetadata struct {
	TableID   string     `json:"table_id"`
	Partition *Partition `json:"partition,omitempty"`
	State     string     `json:"state,omitempty"`
	Version   uint64     `json:"version"`

	DeprecatedStartKey string `json:"deprecated_start_key,omitempty"`
	DeprecatedEndKey   string `json:"deprecated_end_key,omitempty"`
}

// upgradeLegacyPartition 内存表示只保留结构化分区，
// 持久化的数据保持原样，除非显式重写
func (m *TabletMetadata) upgradeLegacyPartition() {
	if m.Partition == nil && (len(m.DeprecatedStartKey) > 0 || len(m.DeprecatedEndKey) > 0) {
		m.Partition = &Partition{
			KeyStart: m.DeprecatedStartKey,
			KeyEnd:   m.DeprecatedEndKey,
		}
	}
	m.DeprecatedStartKey, m.DeprecatedEndKey = "", ""
}

func EncodeTableMetadata(m *TableMetadata) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeTableMetadata(data []byte) (*TableMetadata, error) {
	var m TableMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode table metadata: %w", err)
	}
	return &m, nil
}

func EncodeTabletMetadata(m *TabletMetadata) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeTabletMetadata(data []byte) (*TabletMetadata, error) {
	var m TabletMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode tablet metadata: %w", err)
	}
	m.upgradeLegacyPartition()
	return &m, nil
}
