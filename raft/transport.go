package raft

type (
	// CMD RPC 命令消息，Response 由处理方写回
	CMD struct {
		Request  interface{}
		Response chan interface{}
	}

	// Transport 提供 RPC 调用能力。网络实现属于外部协作方，
	// 本包只内置进程内实现供测试和单机部署使用
	Transport interface {
		// Consumer 返回一个可消费的 Chan
		Consumer() <-chan *CMD
		// VoteRequest 发起投票请求
		VoteRequest(*ServerInfo, *VoteRequest) (*VoteResponse, error)
		// AppendEntries 追加日志，也承载心跳
		AppendEntries(*ServerInfo, *AppendEntryRequest) (*AppendEntryResponse, error)

		LocalAddr() ServerAddr
	}
)
