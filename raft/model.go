package raft

type (
	ServerID   string
	ServerAddr string

	ServerInfo struct {
		// Suffrage determines whether the server gets a vote.
		Suffrage ServerSuffrage `json:"suffrage"`
		// ID 节点的永久身份标识，地址不是可靠的长期身份
		ID   ServerID   `json:"id"`
		Addr ServerAddr `json:"addr"`
	}

	RPCHeader struct {
		ID     ServerID   `json:"id"`
		Addr   ServerAddr `json:"addr"`
		ErrMsg string     `json:"err_msg,omitempty"`
	}

	AppendEntryRequest struct {
		*RPCHeader
		Term uint64 `json:"term"`
		// PrevLogIndex 紧邻新日志条目之前的那个日志条目的索引
		PrevLogIndex uint64 `json:"prev_log_index"`
		PrevLogTerm  uint64 `json:"prev_log_term"`
		// Entries 需要被保存的日志条目，心跳时为空
		Entries []*LogEntry `json:"entries"`
		// LeaderCommit 领导人已知己提交的最高的日志条目的索引
		LeaderCommit uint64 `json:"leader_commit"`
	}
	AppendEntryResponse struct {
		*RPCHeader
		Term uint64 `json:"term"`
		// LastLogIndex 响应者的最新日志索引，用于领导人回退 nextIndex
		LastLogIndex uint64 `json:"last_log_index"`
		Success      bool   `json:"success"`
	}

	VoteRequest struct {
		*RPCHeader
		Term         uint64 `json:"term"`
		LastLogIndex uint64 `json:"last_log_index"`
		LastLogTerm  uint64 `json:"last_log_term"`
	}
	VoteResponse struct {
		*RPCHeader
		Term        uint64 `json:"term"`
		VoteGranted bool   `json:"vote_granted"`
	}

	voteResult struct {
		*VoteResponse
		ServerID ServerID
	}
)

func (r *Raft) buildRPCHeader(err error) *RPCHeader {
	header := &RPCHeader{
		ID:   r.localInfo.ID,
		Addr: r.localInfo.Addr,
	}
	if err != nil {
		header.ErrMsg = err.Error()
	}
	return header
}
