package raft

import "errors"

const (
	keyCurrentTerm       = "CurrentTerm"
	keyLastVoteTerm      = "LastVoteTerm"
	keyLastVoteCandidate = "LastVoteCandidate"
	keyCommittedIndex    = "CommittedIndex"
)

// ErrKeyNotFound 首次启动时任何 key 都不存在，调用方需要容忍
var ErrKeyNotFound = errors.New("key not found")

// KVStorage 提供稳定存储的抽象，用于持久化任期、投票记录等少量字段
type KVStorage interface {
	Get(key string) (val string, err error)
	Set(key string, val string) error

	SetUint64(key string, val uint64) error
	GetUint64(key string) (uint64, error)
}

// LoadCommittedIndex 读取已持久化的提交位置，恢复流程只重放该位置之前的日志。
// 没有记录过返回 0
func LoadCommittedIndex(kv KVStorage) (uint64, error) {
	index, err := kv.GetUint64(keyCommittedIndex)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return 0, err
	}
	return index, nil
}
