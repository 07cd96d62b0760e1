package raft

import (
	"errors"
	"time"

	. "github.com/fuyao-w/common-util"
)

// MemTransport 进程内传输实现，多个实例通过 Connect 互联。
// 同一个进程可以承载多个复制组，测试依赖这一点
type MemTransport struct {
	localAddr  ServerAddr
	consumerCh chan *CMD
	peers      *LockItem[map[ServerAddr]*MemTransport]
	timeout    time.Duration
	// delay 每次出站调用前注入的延迟，用于混沌测试
	delay *AtomicVal[time.Duration]
}

var errTransportTimeout = errors.New("mem transport time out")

func NewMemTransport() *MemTransport {
	return NewMemTransportWithAddr(ServerAddr(GenerateUUID()))
}

func NewMemTransportWithAddr(addr ServerAddr) *MemTransport {
	return &MemTransport{
		localAddr:  addr,
		consumerCh: make(chan *CMD),
		peers:      NewLockItem(map[ServerAddr]*MemTransport{}),
		timeout:    time.Second,
		delay:      NewAtomicVal[time.Duration](),
	}
}

// Connect 单向注册对端，双向互联需要两次调用
func (m *MemTransport) Connect(addr ServerAddr, peer *MemTransport) {
	m.peers.Action(func(t *map[ServerAddr]*MemTransport) {
		(*t)[addr] = peer
	})
}

func (m *MemTransport) Disconnect(addr ServerAddr) {
	m.peers.Action(func(t *map[ServerAddr]*MemTransport) {
		delete(*t, addr)
	})
}

func (m *MemTransport) DisconnectAll() {
	m.peers.Set(map[ServerAddr]*MemTransport{})
}

// SetDelay 之后的每次出站调用前都会睡眠 d
func (m *MemTransport) SetDelay(d time.Duration) {
	m.delay.Store(d)
}

func (m *MemTransport) getPeer(addr ServerAddr) (peer *MemTransport) {
	m.peers.Action(func(t *map[ServerAddr]*MemTransport) {
		peer = (*t)[addr]
	})
	return
}

func (m *MemTransport) Consumer() <-chan *CMD {
	return m.consumerCh
}

func (m *MemTransport) LocalAddr() ServerAddr {
	return m.localAddr
}

func (m *MemTransport) doRpc(addr ServerAddr, request interface{}) (interface{}, error) {
	if d := m.delay.Load(); d > 0 {
		time.Sleep(d)
	}
	peer := m.getPeer(addr)
	if peer == nil {
		return nil, errors.New("peer not connected")
	}
	cmd := &CMD{
		Request:  request,
		Response: make(chan interface{}, 1),
	}
	select {
	case peer.consumerCh <- cmd:
	case <-time.After(m.timeout):
		return nil, errTransportTimeout
	}
	select {
	case resp := <-cmd.Response:
		return resp, nil
	case <-time.After(m.timeout):
		return nil, errTransportTimeout
	}
}

func (m *MemTransport) VoteRequest(info *ServerInfo, request *VoteRequest) (*VoteResponse, error) {
	resp, err := m.doRpc(info.Addr, request)
	if err != nil {
		return nil, err
	}
	return resp.(*VoteResponse), nil
}

func (m *MemTransport) AppendEntries(info *ServerInfo, request *AppendEntryRequest) (*AppendEntryResponse, error) {
	resp, err := m.doRpc(info.Addr, request)
	if err != nil {
		return nil, err
	}
	return resp.(*AppendEntryResponse), nil
}

func (m *MemTransport) Close() error {
	m.DisconnectAll()
	return nil
}
