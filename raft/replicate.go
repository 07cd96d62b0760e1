package raft

import (
	"container/list"
	"sync/atomic"
	"time"

	. "github.com/fuyao-w/common-util"
)

type (
	leaderState struct {
		inflight *list.List
		// stepDown 在和 follower 交互后，leader 可能会下台
		stepDown  chan struct{}
		replState map[ServerID]*followerReplication
		// commitCh 通知有日志被提交
		commitCh   chan struct{}
		commitment *commitment
	}
	followerReplication struct {
		// term 复制组建立时 leader 的任期，任期切换后复制组会重建
		term     uint64
		failures uint64
		// nextIndex 下一条要发给该节点的日志索引，原子访问
		nextIndex uint64
		// triggerCh 有新日志需要复制时触发
		triggerCh  chan struct{}
		stepDownCh chan struct{}
		// stopCh 携带复制停止前需要追平的索引，0 代表直接停止
		stopCh      chan uint64
		server      *LockItem[ServerInfo]
		lastContact *LockItem[time.Time]
		// notifyCh is notified to send out a heartbeat, which is used to check that
		// this server is still leader.
		notifyCh chan struct{}
		// closeHeartbeatCh 复制循环退出时关闭，心跳循环随之退出
		closeHeartbeatCh chan struct{}
	}
)

func (fr *followerReplication) close() {
	select {
	case fr.stopCh <- 0:
	default:
	}
}

func (fr *followerReplication) getNextIndex() uint64 {
	return atomic.LoadUint64(&fr.nextIndex)
}

func (fr *followerReplication) setNextIndex(index uint64) {
	atomic.StoreUint64(&fr.nextIndex, index)
}

func (l *leaderState) close() {
	for _, replication := range l.replState {
		replication.close()
	}
	if l.inflight != nil {
		for e := l.inflight.Front(); e != nil; e = e.Next() {
			e.Value.(*LogFuture).fail(ErrLeadershipLost)
		}
	}
	*l = leaderState{}
}

// reloadReplication 新节点开始复制，已移除的节点停止复制
func (r *Raft) reloadReplication() {
	var (
		nextIndex = r.getLastIndex() + 1
		inConfig  = make(map[ServerID]bool, len(r.getLatestServers()))
	)
	for _, server := range r.getLatestServers() {
		if server.ID == r.localInfo.ID {
			inConfig[server.ID] = true
			continue
		}
		inConfig[server.ID] = true
		if fr, ok := r.leaderState.replState[server.ID]; ok {
			fr.server.Set(server)
			continue
		}
		fr := &followerReplication{
			term:             r.getCurrentTerm(),
			nextIndex:        nextIndex,
			stepDownCh:       r.leaderState.stepDown,
			server:           NewLockItem(server),
			lastContact:      NewLockItem(time.Now()),
			stopCh:           make(chan uint64, 1),
			notifyCh:         make(chan struct{}, 1),
			closeHeartbeatCh: make(chan struct{}),
			triggerCh:        make(chan struct{}, 1),
		}
		r.leaderState.replState[server.ID] = fr
		r.goFunc(
			func() {
				r.replicate(fr)
			},
			func() {
				r.heartbeat(fr)
			},
		)
	}

	// 如果节点已经被移除则需要停止其复制和心跳
	for id, repl := range r.leaderState.replState {
		if inConfig[id] {
			continue
		}
		repl.close()
		delete(r.leaderState.replState, id)
	}
}

func (r *Raft) buildAppendEntriesReq(fr *followerReplication, nextIndex, lastIndex uint64) (*AppendEntryRequest, error) {
	req := &AppendEntryRequest{
		RPCHeader:    r.buildRPCHeader(nil),
		Term:         fr.term,
		LeaderCommit: r.getCommitIndex(),
	}
	setPreviousLog := func() error {
		if nextIndex <= 1 {
			return nil
		}
		lastLogTerm, lastLogIndex := r.getLastLog()
		if nextIndex-1 == lastLogIndex {
			req.PrevLogIndex, req.PrevLogTerm = lastLogIndex, lastLogTerm
			return nil
		}
		entry, err := r.logStore.GetLog(nextIndex - 1)
		if err != nil {
			return err
		}
		req.PrevLogIndex, req.PrevLogTerm = entry.Index, entry.Term
		return nil
	}
	setEntries := func() error {
		maxAppendEntries := uint64(r.Config().MaxAppendEntries)
		maxIndex := Min(nextIndex+maxAppendEntries-1, lastIndex)
		logs, err := r.logStore.GetLogRange(nextIndex, maxIndex)
		req.Entries = logs
		return err
	}
	for _, f := range []func() error{setPreviousLog, setEntries} {
		if err := f(); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// replicateTo 把日志复制到 lastIndex 位置，返回是否需要停止复制
func (r *Raft) replicateTo(fr *followerReplication, lastIndex uint64) (stop bool) {
	for {
		nextIndex := fr.getNextIndex()
		if nextIndex > lastIndex {
			return false
		}
		req, err := r.buildAppendEntriesReq(fr, nextIndex, lastIndex)
		if err != nil {
			r.logger.Errorf("failed to build append entries request ,next :%d ,err :%s", nextIndex, err)
			return false
		}
		peer := fr.server.Get()
		resp, err := r.trans.AppendEntries(&peer, req)
		if err != nil {
			fr.failures++
			return false
		}
		if resp.Term > fr.term {
			// 有更高任期，通知下台
			asyncNotify(fr.stepDownCh)
			return true
		}
		fr.lastContact.Set(time.Now())
		if resp.Success {
			if n := len(req.Entries); n > 0 {
				last := req.Entries[n-1]
				fr.setNextIndex(last.Index + 1)
				r.leaderState.commitment.match(peer.ID, last.Index)
			}
			fr.failures = 0
		} else {
			// follower 日志冲突或落后，根据其最新索引回退后重试
			next := Min(nextIndex-1, resp.LastLogIndex+1)
			fr.setNextIndex(Max(next, 1))
		}
	}
}

func (r *Raft) replicate(fr *followerReplication) {
	defer close(fr.closeHeartbeatCh)
	var shouldStop bool
	for !shouldStop {
		select {
		case lastIndex := <-fr.stopCh:
			if lastIndex > 0 {
				r.replicateTo(fr, lastIndex)
			}
			return
		case <-fr.triggerCh:
			shouldStop = r.replicateTo(fr, r.getLastIndex())
		case <-randomTimeout(r.Config().CommitTimeout):
			shouldStop = r.replicateTo(fr, r.getLastIndex())
		}
	}
}

// heartbeat 周期发送空的追加日志请求，同时同步提交位置
func (r *Raft) heartbeat(fr *followerReplication) {
	for {
		select {
		case <-randomTimeout(r.Config().HeartBeatTimeout / 4):
		case <-fr.notifyCh:
		case <-fr.closeHeartbeatCh:
			return
		}
		peer := fr.server.Get()
		req := &AppendEntryRequest{
			RPCHeader:    r.buildRPCHeader(nil),
			Term:         fr.term,
			LeaderCommit: r.getCommitIndex(),
		}
		resp, err := r.trans.AppendEntries(&peer, req)
		if err != nil {
			fr.failures++
			continue
		}
		fr.lastContact.Set(time.Now())
		if resp.Term > fr.term {
			asyncNotify(fr.stepDownCh)
			return
		}
	}
}
