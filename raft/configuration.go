package raft

import (
	"encoding/json"
	"fmt"
)

type ServerSuffrage int

const (
	Voter ServerSuffrage = iota
	NonVoter
)

// InvalidOpIDIndex 表示配置还没有通过日志提交过
const InvalidOpIDIndex int64 = -1

// GroupConfig 复制组的成员配置，配置变更本身也是日志记录，
// 只有提交后才生效。任何时刻只有一份已提交的配置。
type GroupConfig struct {
	Servers []ServerInfo `json:"servers"`
	// OpIDIndex 该配置所对应的日志索引，初始配置为 InvalidOpIDIndex
	OpIDIndex int64 `json:"opid_index"`
}

type configurations struct {
	commit      GroupConfig
	latest      GroupConfig
	commitIndex uint64
	latestIndex uint64
}

func (c *GroupConfig) Clone() (copied GroupConfig) {
	copied.Servers = append(copied.Servers, c.Servers...)
	copied.OpIDIndex = c.OpIDIndex
	return
}

// HasServer id 是否在配置中
func (c *GroupConfig) HasServer(id ServerID) bool {
	for _, server := range c.Servers {
		if server.ID == id {
			return true
		}
	}
	return false
}

func (c *configurations) Clone() configurations {
	return configurations{
		commit:      c.commit.Clone(),
		latest:      c.latest.Clone(),
		commitIndex: c.commitIndex,
		latestIndex: c.latestIndex,
	}
}

type configurationChangeCommand uint64

const (
	AddVoter configurationChangeCommand = iota + 1
	AddNonVoter
	DemoteVoter
	removeServer
)

type configurationChangeRequest struct {
	command   configurationChangeCommand
	peer      ServerInfo
	prevIndex uint64
}

func DecodeGroupConfig(data []byte) (c GroupConfig) {
	json.Unmarshal(data, &c)
	return
}

func EncodeGroupConfig(c GroupConfig) (data []byte) {
	data, _ = json.Marshal(c)
	return
}

// ValidateGroupConfig 校验配置的结构合法性：id、地址不冲突且至少一个 voter
func ValidateGroupConfig(config GroupConfig) error {
	var (
		idSet   = make(map[ServerID]bool, len(config.Servers))
		addrSet = make(map[ServerAddr]bool, len(config.Servers))
		ef      = fmt.Errorf
		voter   int
	)
	for _, server := range config.Servers {
		if len(server.ID) == 0 {
			return ef("empty server id ,addr :%s", server.Addr)
		}
		if idSet[server.ID] {
			return ef("id conflict :%s", server.ID)
		}
		if addrSet[server.Addr] {
			return ef("addr conflict :%s", server.Addr)
		}
		idSet[server.ID] = true
		addrSet[server.Addr] = true
		if server.Suffrage == Voter {
			voter++
		}
	}
	if voter == 0 {
		return ef("no valid voters")
	}
	return nil
}

func canVote(c GroupConfig, id ServerID) bool {
	for _, server := range c.Servers {
		if server.ID == id {
			return server.Suffrage == Voter
		}
	}
	return false
}

// calcNewConfiguration 计算最新的配置
func calcNewConfiguration(current GroupConfig, currentIndex uint64, req configurationChangeRequest) (GroupConfig, error) {
	if req.prevIndex > 0 && req.prevIndex != currentIndex {
		return GroupConfig{}, fmt.Errorf("configuration changed since %d (latest is %d)", req.prevIndex, currentIndex)
	}
	config := current.Clone()

	switch req.command {
	case AddVoter, AddNonVoter:
		suffrage := Voter
		if req.command == AddNonVoter {
			suffrage = NonVoter
		}
		var found bool
		for i, server := range config.Servers {
			if server.ID != req.peer.ID {
				continue
			}
			found = true
			config.Servers[i] = req.peer
			config.Servers[i].Suffrage = suffrage
			break
		}
		if !found {
			peer := req.peer
			peer.Suffrage = suffrage
			config.Servers = append(config.Servers, peer)
		}
	case DemoteVoter:
		for i, server := range config.Servers {
			if server.ID == req.peer.ID {
				config.Servers[i].Suffrage = NonVoter
				break
			}
		}
	case removeServer:
		for i, server := range config.Servers {
			if server.ID == req.peer.ID {
				config.Servers = append(config.Servers[:i], config.Servers[i+1:]...)
				break
			}
		}
	default:
		return GroupConfig{}, fmt.Errorf("unknown configuration change command :%d", req.command)
	}
	return config, ValidateGroupConfig(config)
}

// ConfigurationStore provides an interface that can optionally be implemented
// by FSMs to store configuration updates made in the replicated log. By
// storing committed configuration changes, the persistent FSM state can
// recover group membership without replaying the whole log.
type ConfigurationStore interface {
	FSM
	// StoreConfiguration is invoked once a log entry containing a
	// configuration change is committed.
	StoreConfiguration(index uint64, configuration GroupConfig)
}
