package raft

import "time"

const (
	LogCommand LogType = iota + 1
	// LogNoop 只用于上任后确认领导权
	LogNoop
	LogConfiguration
)

type (
	LogType uint8
	// LogEntry 日志条目，持久化确认后不可变更
	LogEntry struct {
		// Term 当前日志写入时的任期
		Term uint64 `json:"term"`
		// Index 当前日志写入的索引，同一任期内严格递增且无空洞
		Index uint64 `json:"index"`
		// Type 当前日志的类型
		Type LogType `json:"type"`
		// Data 操作内容，对共识层完全不透明
		Data []byte `json:"data"`
		// CreatedAt 当前日志的创建时间
		CreatedAt time.Time `json:"created_at"`
	}
)

// LogStore 提供日志操作的抽象
type LogStore interface {
	// FirstIndex 返回第一个写入的索引，0 代表没有
	FirstIndex() (uint64, error)
	// LastIndex 返回最后一个写入的索引，0 代表没有
	LastIndex() (uint64, error)
	// GetLog 返回指定位置的日志
	GetLog(index uint64) (log *LogEntry, err error)
	// GetLogRange 按指定范围获取日志，闭区间
	GetLogRange(from, to uint64) (log []*LogEntry, err error)
	// SetLogs 追加日志
	SetLogs(logs []*LogEntry) error
	// DeleteRange 批量删除指定范围的日志，用于截断冲突日志
	DeleteRange(from, to uint64) error
}
