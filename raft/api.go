package raft

import (
	"errors"
	"time"
)

var (
	ErrNotLeader      = errors.New("not leader")
	ErrNotVoter       = errors.New("not voter")
	ErrNotFoundLog    = errors.New("not found log")
	ErrCantBootstrap  = errors.New("bootstrap only works on new groups")
	ErrShutDown       = errors.New("shut down")
	ErrEnqueueTimeout = errors.New("timed out enqueuing operation")
	ErrTimeout        = errors.New("time out")
	// ErrLeadershipLost is returned for a record that was appended locally
	// but lost its leader before a majority acknowledged it. The record may
	// be superseded; the caller must retry against the new leader.
	ErrLeadershipLost = errors.New("leadership lost while committing log")
)

// MinimumTerm 新建组允许的最小任期
const MinimumTerm uint64 = 1

// Apply 提交一条日志，返回的 future 会在日志提交并应用到状态机后返回
func (r *Raft) Apply(data []byte, timeout time.Duration) ApplyFuture {
	return r.applyLog(&LogEntry{Data: data, Type: LogCommand}, timeout)
}

func (r *Raft) applyLog(entry *LogEntry, timeout time.Duration) ApplyFuture {
	var tm <-chan time.Time
	if timeout > 0 {
		tm = time.After(timeout)
	}
	var fu = &LogFuture{log: entry}
	fu.init()
	select {
	case <-tm:
		return &errFuture[nilRespFuture]{ErrEnqueueTimeout}
	case <-r.shutDown.C:
		return &errFuture[nilRespFuture]{ErrShutDown}
	case r.applyCh <- fu:
		return fu
	}
}

// BootstrapGroup 引导一个新的复制组，configuration 必须包含本节点
func (r *Raft) BootstrapGroup(configuration GroupConfig) defaultFuture {
	fu := &bootstrapFuture{configuration: configuration}
	fu.init()
	select {
	case <-r.shutDown.C:
		fu.fail(ErrShutDown)
	case r.bootstrapCh <- fu:
	}
	return fu
}

// VerifyLeader 确认当前节点是否仍持有领导权
func (r *Raft) VerifyLeader() defaultFuture {
	vf := &verifyFuture{}
	vf.init()
	select {
	case <-r.shutDown.C:
		return &errFuture[nilRespFuture]{ErrShutDown}
	case r.verifyCh <- vf:
		return vf
	}
}

func (r *Raft) GetConfiguration() GroupConfig {
	return r.latestConfiguration.Load()
}

// ReadConfigurations 经由主循环读取配置，能同时拿到已提交与最新的两份
func (r *Raft) ReadConfigurations() (commit, latest GroupConfig, err error) {
	fu := &configurationsGetFuture{}
	fu.init()
	select {
	case <-r.shutDown.C:
		return commit, latest, ErrShutDown
	case r.configurationsGetCh <- fu:
	}
	c, err := fu.Response()
	if err != nil {
		return commit, latest, err
	}
	return c.commit, c.latest, nil
}

func (r *Raft) AddVoter(id ServerID, addr ServerAddr, prevIndex uint64, timeout time.Duration) IndexFuture {
	return r.requestConfigChange(configurationChangeRequest{
		command:   AddVoter,
		peer:      ServerInfo{ID: id, Addr: addr, Suffrage: Voter},
		prevIndex: prevIndex,
	}, timeout)
}

func (r *Raft) AddNonVoter(id ServerID, addr ServerAddr, prevIndex uint64, timeout time.Duration) IndexFuture {
	return r.requestConfigChange(configurationChangeRequest{
		command:   AddNonVoter,
		peer:      ServerInfo{ID: id, Addr: addr, Suffrage: NonVoter},
		prevIndex: prevIndex,
	}, timeout)
}

func (r *Raft) RemoveServer(id ServerID, prevIndex uint64, timeout time.Duration) IndexFuture {
	return r.requestConfigChange(configurationChangeRequest{
		command:   removeServer,
		peer:      ServerInfo{ID: id},
		prevIndex: prevIndex,
	}, timeout)
}

func (r *Raft) DemoteVoter(id ServerID, prevIndex uint64, timeout time.Duration) IndexFuture {
	return r.requestConfigChange(configurationChangeRequest{
		command:   DemoteVoter,
		peer:      ServerInfo{ID: id},
		prevIndex: prevIndex,
	}, timeout)
}

func (r *Raft) requestConfigChange(req configurationChangeRequest, timeout time.Duration) IndexFuture {
	var tm <-chan time.Time
	if timeout > 0 {
		tm = time.After(timeout)
	}
	var ccf = &configurationChangeFuture{req: req}
	ccf.init()
	select {
	case <-tm:
		return &errFuture[nilRespFuture]{ErrEnqueueTimeout}
	case <-r.shutDown.C:
		return &errFuture[nilRespFuture]{ErrShutDown}
	case r.configurationChangeCh <- ccf:
		return ccf
	}
}

// Leader 返回当前已知的 leader 地址
func (r *Raft) Leader() ServerAddr {
	return r.leaderInfo.Get().Addr
}

func (r *Raft) LeaderInfo() ServerInfo {
	return r.leaderInfo.Get()
}

func (r *Raft) LastContact() time.Time {
	return r.lastContact.Get()
}

func (r *Raft) LastIndex() uint64 {
	return r.getLastIndex()
}

func (r *Raft) LastApplied() uint64 {
	return r.getLastApplied()
}

func (r *Raft) CommitIndex() uint64 {
	return r.getCommitIndex()
}

func (r *Raft) CurrentTerm() uint64 {
	return r.getCurrentTerm()
}

func (r *Raft) State() State {
	return r.state.GetState()
}

// WaitUntilRunning 阻塞直到本节点的共识子系统处于可用状态：
// 要么本节点是 leader，要么是已知 leader 的 follower。
// 超时返回 ErrTimeout，关机返回 ErrShutDown。
func (r *Raft) WaitUntilRunning(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		switch r.state.GetState() {
		case Leader:
			return nil
		case Follower:
			if len(r.leaderInfo.Get().ID) > 0 {
				return nil
			}
		case ShutDown:
			return ErrShutDown
		}
		select {
		case <-r.shutDown.C:
			return ErrShutDown
		case <-deadline:
			return ErrTimeout
		case <-tick.C:
		}
	}
}

func (r *Raft) ShutDown() defaultFuture {
	var resp defaultFuture = &shutDownFuture{}
	r.shutDown.done(func(oldState bool) {
		if !oldState {
			resp = &shutDownFuture{raft: r}
			r.setShutDown()
		}
	})
	return resp
}
