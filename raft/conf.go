package raft

import (
	"fmt"
	"time"
)

type Config struct {
	LocalID   ServerID
	LocalAddr ServerAddr
	// HeartBeatTimeout follower 在该时间内未收到 leader 心跳则发起选举
	HeartBeatTimeout time.Duration
	ElectionTimeout  time.Duration
	// CommitTimeout 无新日志时触发一轮复制的间隔
	CommitTimeout time.Duration
	// LeadershipTimeout 担任领导角色后的超时时间，如果在此时间内没有
	// 达到法定人数的支持，则回退到 follower
	LeadershipTimeout time.Duration
	// MaxAppendEntries 单次提交支持的最长批量日志长度
	MaxAppendEntries int
	// If we are a member of a group, and RemoveServer is invoked for the
	// local node, then we forget all peers and transition into the follower
	// state. If ShutdownOnRemove is set, we additionally shut down.
	ShutdownOnRemove bool
	// InitialApplied 恢复流程重放完已提交前缀后的位置，
	// 状态机已经包含该索引之前的全部效果
	InitialApplied uint64
	Logger         Logger
}

func DefaultConfig() *Config {
	return &Config{
		HeartBeatTimeout:  time.Second,
		ElectionTimeout:   time.Second,
		CommitTimeout:     50 * time.Millisecond,
		LeadershipTimeout: 500 * time.Millisecond,
		MaxAppendEntries:  64,
	}
}

func validateConfig(config *Config) error {
	ef := fmt.Errorf
	if len(config.LocalID) == 0 {
		return ef("LocalID is nil")
	}
	if len(config.LocalAddr) == 0 {
		return ef("LocalAddr is nil")
	}
	if config.HeartBeatTimeout < 5*time.Millisecond {
		return ef("HeartBeatTimeout is too low")
	}
	if config.ElectionTimeout < 5*time.Millisecond {
		return ef("ElectionTimeout is too low")
	}
	if config.CommitTimeout < time.Millisecond {
		return ef("CommitTimeout is too low")
	}
	if config.MaxAppendEntries <= 0 || config.MaxAppendEntries > 1024 {
		return ef("MaxAppendEntries must be in (0,1024]")
	}
	if config.LeadershipTimeout < 5*time.Millisecond {
		return ef("LeadershipTimeout is too low")
	}
	if config.LeadershipTimeout > config.HeartBeatTimeout {
		return ef("LeadershipTimeout (%s) cannot be larger than heartbeat timeout (%s)",
			config.LeadershipTimeout, config.HeartBeatTimeout)
	}
	if config.ElectionTimeout < config.HeartBeatTimeout {
		return ef("ElectionTimeout (%s) must be equal or greater than heartbeat timeout (%s)",
			config.ElectionTimeout, config.HeartBeatTimeout)
	}
	return nil
}
