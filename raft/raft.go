package raft

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/fuyao-w/common-util"
	"golang.org/x/sync/errgroup"
)

type Raft struct {
	raftContext
	latestConfiguration *AtomicVal[GroupConfig]
	// logStore 提供日志操作的能力
	logStore LogStore
	// kvStorage 存储一些需要持久化的字段
	kvStorage KVStorage
	fsm       FSM
	// fsmMutateCh is used to send state-changing updates to the FSM.
	// This receives batches of commitTuple structures when applying logs.
	fsmMutateCh chan []*commitTuple
	// trans 提供 RPC 调用能力，也负责接收远端请求
	trans Transport
	// cmdChan RPC 命令消息
	cmdChan <-chan *CMD
	// applyCh 用于异步提交日志到主线程
	applyCh               chan *LogFuture
	configurationChangeCh chan *configurationChangeFuture
	// configurationsGetCh 用于从外部安全的获取配置信息
	configurationsGetCh chan *configurationsGetFuture
	// verifyCh 用于外部确定当前节点是否还是 leader
	verifyCh    chan *verifyFuture
	bootstrapCh chan *bootstrapFuture
	// conf 配置
	conf      *AtomicVal[*Config]
	localInfo ServerInfo
	shutDown  shutDown
	// lastContact 最后一次与 leader 接触的时间
	lastContact *LockItem[time.Time]
	leaderState *leaderState
	// configurations 既包含已提交的配置也包含未提交的配置
	configurations configurations
	roleNotify     roleNotifier
	// leaderInfo 当前已知的 leader 信息
	leaderInfo *LockItem[ServerInfo]
	logger     Logger
}

func NewRaft(config *Config, fsm FSM, logStore LogStore, kvStorage KVStorage, trans Transport) (*Raft, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config :%w", err)
	}
	if config.Logger == nil {
		config.Logger = NewStdLogger(fmt.Sprintf("raft-%s ", config.LocalID))
	}
	currentTerm, err := kvStorage.GetUint64(keyCurrentTerm)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to load current term :%w", err)
	}
	committedIndex, err := kvStorage.GetUint64(keyCommittedIndex)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to load committed index :%w", err)
	}
	lastIndex, err := logStore.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to find last log :%w", err)
	}
	lastLog := new(LogEntry)
	if lastIndex > 0 {
		if lastLog, err = logStore.GetLog(lastIndex); err != nil {
			return nil, fmt.Errorf("failed to get last log at index %d :%w", lastIndex, err)
		}
	}

	r := &Raft{
		raftContext: raftContext{
			lastEntry: NewLockItem[lastEntry](),
			funcEg:    new(errgroup.Group),
		},
		latestConfiguration: NewAtomicVal[GroupConfig](),
		logStore:            logStore,
		kvStorage:           kvStorage,
		fsm:                 fsm,
		fsmMutateCh:         make(chan []*commitTuple),
		trans:               trans,
		cmdChan:             trans.Consumer(),
		applyCh:             make(chan *LogFuture),
		configurationChangeCh: make(chan *configurationChangeFuture),
		configurationsGetCh:   make(chan *configurationsGetFuture),
		verifyCh:              make(chan *verifyFuture),
		bootstrapCh:           make(chan *bootstrapFuture),
		conf:                  NewAtomicVal[*Config](),
		localInfo: ServerInfo{
			ID:   config.LocalID,
			Addr: config.LocalAddr,
		},
		shutDown:    newShutDown(),
		lastContact: NewLockItem[time.Time](),
		leaderState: new(leaderState),
		roleNotify:  newRoleNotifier(),
		leaderInfo:  NewLockItem[ServerInfo](),
		logger:      config.Logger,
	}
	r.conf.Store(config)
	r.setCurrentTerm(currentTerm)
	r.setLastLog(lastLog.Term, lastLog.Index)

	// 重放日志里的配置变更，保证成员信息恢复到最新
	firstIndex, err := logStore.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to find first log :%w", err)
	}
	for i := firstIndex; firstIndex > 0 && i <= lastLog.Index; i++ {
		entry, err := logStore.GetLog(i)
		if err != nil {
			return nil, fmt.Errorf("failed to get log at index %d :%w", i, err)
		}
		r.processConfigurationLogEntry(entry)
	}

	atomic.StoreUint64(&r.commitIndex, Min(committedIndex, lastLog.Index))
	r.setLastApplied(config.InitialApplied)

	r.setFollower()
	r.goFunc(
		r.run,
		r.runFSM,
	)
	return r, nil
}

func (r *Raft) Config() *Config {
	return r.conf.Load()
}

func (r *Raft) shutDownCh() <-chan struct{} {
	return r.shutDown.C
}

func (r *Raft) run() {
	for {
		select {
		case <-r.shutDownCh():
			return
		default:
			r.tick()
		}
	}
}

func (r *Raft) while(state State, do func() (shouldContinue bool)) {
	for state == r.state.GetState() && do() {
	}
}

func (r *Raft) setLastContact() {
	r.lastContact.Set(time.Now())
}

func (r *Raft) getLeaderInfo() ServerInfo {
	return r.leaderInfo.Get()
}

func (r *Raft) updateLeaderInfo(act func(s *ServerInfo)) {
	r.leaderInfo.Action(act)
}

func (r *Raft) clearLeaderInfo() {
	r.updateLeaderInfo(func(s *ServerInfo) {
		*s = ServerInfo{}
	})
}

func (r *Raft) setCommittedConfiguration(c GroupConfig, index uint64) {
	r.configurations.commit = c
	r.configurations.commitIndex = index
}

func (r *Raft) setLatestConfiguration(c GroupConfig, index uint64) {
	r.configurations.latest = c
	r.configurations.latestIndex = index
	r.latestConfiguration.Store(c.Clone())
}

func (r *Raft) processConfigurationLogEntry(entry *LogEntry) {
	if entry.Type != LogConfiguration {
		return
	}
	r.setCommittedConfiguration(r.configurations.latest, r.configurations.latestIndex)
	r.setLatestConfiguration(DecodeGroupConfig(entry.Data), entry.Index)
}

func (r *Raft) getLatestServers() []ServerInfo {
	return r.configurations.latest.Servers
}

// quorumSize 获取投票获胜的法定人数
func (r *Raft) quorumSize() int {
	var voters int
	for _, server := range r.getLatestServers() {
		if server.Suffrage == Voter {
			voters++
		}
	}
	return voters/2 + 1
}

// memberCount 获取当前集群成员数量，包括自己
func (r *Raft) memberCount() int {
	return len(r.getLatestServers())
}

func (r *Raft) setFollower() {
	r.state.setState(Follower)
	r.tick = r.cycleFollower
	r.roleNotify.notifyRoleChange(Follower, r.getCurrentTerm())
}

func (r *Raft) setCandidate() {
	r.state.setState(Candidate)
	r.tick = r.cycleCandidate
	r.roleNotify.notifyRoleChange(Candidate, r.getCurrentTerm())
}

func (r *Raft) setLeader() {
	r.state.setState(Leader)
	r.updateLeaderInfo(func(s *ServerInfo) {
		*s = r.localInfo
	})
	r.tick = r.cycleLeader
	r.roleNotify.notifyRoleChange(Leader, r.getCurrentTerm())
}

func (r *Raft) setShutDown() {
	r.state.setState(ShutDown)
	r.tick = func() {}
	r.roleNotify.notifyRoleChange(ShutDown, r.getCurrentTerm())
}

// processCMD 处理远端的 RPC 请求
func (r *Raft) processCMD(cmd *CMD) {
	switch req := cmd.Request.(type) {
	case *VoteRequest:
		r.processVote(req, cmd)
	case *AppendEntryRequest:
		r.processAppendEntries(req, cmd)
	default:
		r.logger.Warnf("unexpected rpc request type :%T", cmd.Request)
	}
}

// processVote 处理投票信息
func (r *Raft) processVote(req *VoteRequest, cmd *CMD) {
	var (
		resp = &VoteResponse{
			Term:        r.getCurrentTerm(),
			VoteGranted: false,
		}
		leader = r.getLeaderInfo()
		err    error
	)
	defer func() {
		resp.RPCHeader = r.buildRPCHeader(err)
		cmd.Response <- resp
	}()

	if !canVote(r.configurations.latest, req.ID) {
		// 不在最新配置里或者没有投票权，拒绝
		return
	}
	if len(leader.ID) != 0 && leader.ID != req.ID {
		// 当前已经有一个 leader 了，拒绝
		return
	}
	if req.Term < r.getCurrentTerm() {
		return
	}
	if req.Term > r.getCurrentTerm() {
		// 如果是新一轮的选举，那么我们直接转换为 follower 再继续处理逻辑
		r.setCurrentTerm(req.Term)
		r.setFollower()
		resp.Term = req.Term
	}

	lastVoteTerm, err := r.kvStorage.GetUint64(keyLastVoteTerm)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return
	}
	lastVoteFor, err := r.kvStorage.Get(keyLastVoteCandidate)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return
	}
	err = nil
	if lastVoteTerm == req.Term && len(lastVoteFor) > 0 {
		// 同一任期的同一个候选者可以重复投票
		resp.VoteGranted = ServerID(lastVoteFor) == req.ID
		return
	}

	lastTerm, lastIndex := r.getLastLog()
	if lastTerm > req.LastLogTerm {
		// 本地日志更新，拒绝
		return
	}
	if lastTerm == req.LastLogTerm && lastIndex > req.LastLogIndex {
		return
	}
	if err = r.persistVote(req.Term, req.ID); err != nil {
		return
	}

	resp.VoteGranted = true
	// 更新最新的联系时间，让 follower 继续等待
	r.setLastContact()
}

func (r *Raft) persistVote(term uint64, candidate ServerID) (err error) {
	if err = r.kvStorage.SetUint64(keyLastVoteTerm, term); err != nil {
		return
	}
	if err = r.kvStorage.Set(keyLastVoteCandidate, string(candidate)); err != nil {
		return
	}
	return
}

// processAppendEntries 处理追加日志以及心跳
func (r *Raft) processAppendEntries(req *AppendEntryRequest, cmd *CMD) {
	var (
		lastTerm, lastIndex = r.getLastLog()
		resp                = &AppendEntryResponse{
			Term:         r.getCurrentTerm(),
			LastLogIndex: lastIndex,
		}
		err error
	)
	defer func() {
		resp.RPCHeader = r.buildRPCHeader(err)
		cmd.Response <- resp
	}()

	if req.Term < r.getCurrentTerm() {
		err = errors.New("term is too low")
		return
	}
	if req.Term > r.getCurrentTerm() || r.state.GetState() != Follower {
		r.setCurrentTerm(req.Term)
		r.setFollower()
		resp.Term = req.Term
	}
	r.updateLeaderInfo(func(s *ServerInfo) {
		*s = ServerInfo{
			ID:   req.ID,
			Addr: req.Addr,
		}
	})

	// 校验紧邻新日志之前的那条日志是否匹配
	if req.PrevLogIndex > 0 {
		var prevLogTerm uint64
		if req.PrevLogIndex == lastIndex {
			prevLogTerm = lastTerm
		} else {
			entry, gErr := r.logStore.GetLog(req.PrevLogIndex)
			if gErr != nil {
				err = ErrNotFoundLog
				return
			}
			prevLogTerm = entry.Term
		}
		if req.PrevLogTerm != prevLogTerm {
			err = ErrNotFoundLog
			return
		}
	}

	// 处理冲突日志，未提交的日志可以被新 leader 的日志覆盖
	if len(req.Entries) > 0 {
		var newEntries []*LogEntry
		for i, entry := range req.Entries {
			if entry.Index > lastIndex {
				newEntries = req.Entries[i:]
				break
			}
			stored, gErr := r.logStore.GetLog(entry.Index)
			if gErr != nil {
				err = gErr
				return
			}
			if stored.Term != entry.Term {
				if err = r.logStore.DeleteRange(entry.Index, lastIndex); err != nil {
					return
				}
				if entry.Index <= r.configurations.latestIndex {
					// 被截断的配置回滚到已提交的那份
					r.setLatestConfiguration(r.configurations.commit, r.configurations.commitIndex)
				}
				newEntries = req.Entries[i:]
				break
			}
		}
		if n := len(newEntries); n > 0 {
			if err = r.logStore.SetLogs(newEntries); err != nil {
				return
			}
			for _, entry := range newEntries {
				r.processConfigurationLogEntry(entry)
			}
			last := newEntries[n-1]
			r.setLastLog(last.Term, last.Index)
		}
	}

	// 推进提交位置并把已提交的日志交给状态机
	if req.LeaderCommit > 0 && req.LeaderCommit > r.getCommitIndex() {
		idx := Min(req.LeaderCommit, r.getLastIndex())
		r.updateCommitIndex(idx)
		if r.configurations.latestIndex <= idx {
			r.setCommittedConfiguration(r.configurations.latest, r.configurations.latestIndex)
		}
		r.processLogs(idx, nil)
	}

	resp.Success = true
	r.setLastContact()
}

// processLogs 把 (lastApplied, index] 范围内的日志批量交给状态机，
// futures 里有的直接用，没有的从日志存储里读
func (r *Raft) processLogs(index uint64, futures map[uint64]*LogFuture) {
	lastApplied := r.getLastApplied()
	if index <= lastApplied {
		return
	}
	applyBatch := func(tupleList []*commitTuple) {
		select {
		case r.fsmMutateCh <- tupleList:
		case <-r.shutDownCh():
			for _, tuple := range tupleList {
				if tuple.future != nil {
					tuple.future.fail(ErrShutDown)
				}
			}
		}
	}

	maxAppendEntries := r.Config().MaxAppendEntries
	tupleList := make([]*commitTuple, 0, maxAppendEntries)
	for idx := lastApplied + 1; idx <= index; idx++ {
		var tuple *commitTuple
		if lf, ok := futures[idx]; ok {
			tuple = &commitTuple{log: lf.log, future: lf}
		} else {
			entry, err := r.logStore.GetLog(idx)
			if err != nil {
				r.logger.Errorf("failed to get log for apply ,index :%d ,err :%s", idx, err)
				panic(fmt.Errorf("failed to get log for apply :%w", err))
			}
			tuple = &commitTuple{log: entry}
		}
		tupleList = append(tupleList, tuple)
		if len(tupleList) >= maxAppendEntries {
			applyBatch(tupleList)
			tupleList = make([]*commitTuple, 0, maxAppendEntries)
		}
	}
	if len(tupleList) > 0 {
		applyBatch(tupleList)
	}
	r.setLastApplied(index)
}

// BootstrapNewGroup 向干净的存储写入初始成员配置，只能执行一次
func BootstrapNewGroup(conf *Config, logs LogStore, stable KVStorage, configuration GroupConfig) error {
	if err := validateConfig(conf); err != nil {
		return err
	}
	if err := ValidateGroupConfig(configuration); err != nil {
		return err
	}
	has, err := HasExistingState(logs, stable)
	if err != nil {
		return err
	}
	if has {
		return ErrCantBootstrap
	}
	if err = stable.SetUint64(keyCurrentTerm, MinimumTerm); err != nil {
		return err
	}
	entry := &LogEntry{
		Term:      MinimumTerm,
		Index:     1,
		Type:      LogConfiguration,
		Data:      EncodeGroupConfig(configuration),
		CreatedAt: time.Now(),
	}
	return logs.SetLogs([]*LogEntry{entry})
}

func (r *Raft) bootstrap(c GroupConfig) error {
	if !canVote(c, r.localInfo.ID) {
		return ErrNotVoter
	}
	if err := BootstrapNewGroup(r.Config(), r.logStore, r.kvStorage, c); err != nil {
		return err
	}
	entry, err := r.logStore.GetLog(1)
	if err != nil {
		return err
	}
	r.setCurrentTerm(entry.Term)
	r.setLastLog(entry.Term, entry.Index)
	r.processConfigurationLogEntry(entry)
	return nil
}

func (r *Raft) cycleFollower() {
	// 单节点组等待心跳超时没有意义，直接发起选举
	if r.configurations.latestIndex > 0 && r.quorumSize() == 1 &&
		canVote(r.configurations.latest, r.localInfo.ID) {
		r.setCandidate()
		return
	}
	var (
		heartBeatCheckCh = randomTimeout(r.Config().HeartBeatTimeout)
		warnOnce         = sync.Once{}
		warn             = func(format string, v ...interface{}) {
			warnOnce.Do(func() {
				r.logger.Warnf(format, v...)
			})
		}
	)

	runFollower := func() (shouldContinue bool) {
		select {
		case <-r.shutDownCh():
			return
		case cmd := <-r.cmdChan:
			r.processCMD(cmd)
		case c := <-r.configurationChangeCh:
			c.fail(ErrNotLeader)
		case a := <-r.applyCh:
			a.fail(ErrNotLeader)
		case v := <-r.verifyCh:
			v.fail(ErrNotLeader)
		case c := <-r.configurationsGetCh:
			c.responded(r.configurations.Clone(), nil)
		case b := <-r.bootstrapCh:
			b.fail(r.bootstrap(b.configuration))
		case <-heartBeatCheckCh:
			heartBeatCheckCh = randomTimeout(r.Config().HeartBeatTimeout)
			// 如果未超时，则继续循环
			if time.Now().Sub(r.LastContact()) < r.Config().HeartBeatTimeout {
				return true
			}
			config := r.configurations
			oldLeaderInfo := r.getLeaderInfo()
			// 如果超时，即使不参加选举，也需要清理下上下文相关的字段
			r.clearLeaderInfo()
			switch {
			case config.latestIndex == 0:
				warn("unknown peers, aborting election")
			case config.latestIndex == config.commitIndex && !canVote(config.latest, r.localInfo.ID):
				warn("not part of stable configuration, aborting election")
			case canVote(config.latest, r.localInfo.ID):
				warn("heartbeat timeout reached, starting election ,last leader id :%s ,addr :%s",
					oldLeaderInfo.ID, oldLeaderInfo.Addr)
				r.setCandidate()
			default:
				warn("heartbeat timeout reached, not part of a stable configuration or a non-voter, not triggering a leader election")
			}
		}
		return true
	}
	r.while(Follower, runFollower)
}

// launchElection 增加任期后给自己投一票，然后向其他节点发起选举请求
func (r *Raft) launchElection() chan *voteResult {
	// 首先增加任期号
	r.setCurrentTerm(r.getCurrentTerm() + 1)

	var (
		lastTerm, lastIndex = r.getLastLog()
		req                 = &VoteRequest{
			RPCHeader:    r.buildRPCHeader(nil),
			Term:         r.getCurrentTerm(),
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		}
		respChan = make(chan *voteResult, r.memberCount())
	)

	for _, server := range r.getLatestServers() {
		server := server
		switch {
		case server.Suffrage != Voter:
		case server.ID == r.localInfo.ID: // 选自己
			if err := r.persistVote(req.Term, r.localInfo.ID); err != nil {
				r.logger.Errorf("failed to persist vote for self :%s", err)
				return nil
			}
			respChan <- &voteResult{
				VoteResponse: &VoteResponse{
					RPCHeader:   r.buildRPCHeader(nil),
					Term:        req.Term,
					VoteGranted: true,
				},
				ServerID: r.localInfo.ID,
			}
		default:
			r.goFunc(func() {
				resp, err := r.trans.VoteRequest(&server, req)
				if err != nil {
					r.logger.Errorf("launchElection err :%s ,peer :%+v", err, server)
					return
				}
				respChan <- &voteResult{
					ServerID:     server.ID,
					VoteResponse: resp,
				}
			})
		}
	}
	return respChan
}

func (r *Raft) cycleCandidate() {
	var (
		electionResultCh = r.launchElection()
		grantedVotes     int
		quorumSize       = r.quorumSize()
	)
	if electionResultCh == nil {
		r.setFollower()
		return
	}
	electionTimeoutCh := randomTimeout(r.Config().ElectionTimeout)

	runCandidate := func() (shouldContinue bool) {
		select {
		case <-r.shutDownCh():
			return
		case cmd := <-r.cmdChan:
			r.processCMD(cmd)
		case c := <-r.configurationChangeCh:
			c.fail(ErrNotLeader)
		case a := <-r.applyCh:
			a.fail(ErrNotLeader)
		case v := <-r.verifyCh:
			v.fail(ErrNotLeader)
		case c := <-r.configurationsGetCh:
			c.responded(r.configurations.Clone(), nil)
		case b := <-r.bootstrapCh:
			b.fail(ErrCantBootstrap)
		case result := <-electionResultCh: // 接收选举结果
			if result.Term > r.getCurrentTerm() {
				r.logger.Infof("newer term discovered, fallback to follower ,term :%d", result.Term)
				r.setCurrentTerm(result.Term)
				r.setFollower()
				return
			}
			if result.VoteGranted {
				grantedVotes++
				r.logger.Debugf("vote granted ,from :%s ,term :%d ,tally :%d", result.ServerID, result.Term, grantedVotes)
			}
			if grantedVotes >= quorumSize {
				// 选举成功
				r.logger.Infof("election won ,term :%d ,tally :%d", r.getCurrentTerm(), grantedVotes)
				r.setLeader()
			}
		case <-electionTimeoutCh:
			// 选举超时失败，退出后重新发起
			r.logger.Warnf("election timeout reached, restarting election")
			return false
		}
		return true
	}
	r.while(Candidate, runCandidate)
}

// checkLeadership 检查当前是否还有领导权
func (r *Raft) checkLeadership() (keep bool, maxDiff time.Duration) {
	var (
		contacted         int
		now               = time.Now()
		replState         = r.leaderState.replState
		leadershipTimeout = r.Config().LeadershipTimeout
	)
	for _, server := range r.getLatestServers() {
		if server.Suffrage != Voter {
			continue
		}
		if server.ID == r.localInfo.ID {
			contacted++
			continue
		}
		repl, ok := replState[server.ID]
		if !ok {
			continue
		}
		sub := now.Sub(repl.lastContact.Get())
		if sub > leadershipTimeout {
			continue
		}
		contacted++
		maxDiff = Max(maxDiff, sub)
	}
	return contacted >= r.quorumSize(), maxDiff
}

const minLeadershipTimeout = 10 * time.Millisecond

func (r *Raft) dispatchLogs(applyLogs []*LogFuture) error {
	var (
		currentTerm = r.getCurrentTerm()
		lastIndex   = r.getLastIndex()
		logs        []*LogEntry
	)
	for _, applyLog := range applyLogs {
		lastIndex++
		applyLog.log.Term = currentTerm
		applyLog.log.Index = lastIndex
		applyLog.log.CreatedAt = time.Now()
		logs = append(logs, applyLog.log)
	}
	if err := r.logStore.SetLogs(logs); err != nil {
		r.logger.Errorf("failed to dispatch logs :%s", err)
		for _, applyLog := range applyLogs {
			applyLog.fail(err)
		}
		r.setFollower()
		return err
	}
	for _, applyLog := range applyLogs {
		r.leaderState.inflight.PushBack(applyLog)
	}
	r.setLastLog(currentTerm, lastIndex)
	r.leaderState.commitment.match(r.localInfo.ID, lastIndex)
	for _, repl := range r.leaderState.replState {
		asyncNotify(repl.triggerCh)
	}
	return nil
}

func (r *Raft) initLeaderState() {
	commitCh := make(chan struct{}, 1)
	r.leaderState = &leaderState{
		inflight:   list.New(),
		stepDown:   make(chan struct{}, 1),
		replState:  map[ServerID]*followerReplication{},
		commitCh:   commitCh,
		commitment: newCommitment(commitCh, r.configurations.latest, r.getLastIndex()+1),
	}
}

func (r *Raft) leaderVerify(verify *verifyFuture) {
	if r.quorumSize() == 1 {
		verify.success()
		return
	}
	if keep, _ := r.checkLeadership(); keep {
		verify.success()
	} else {
		verify.fail(ErrNotLeader)
	}
}

func (r *Raft) configurationChangeChIfStable() chan *configurationChangeFuture {
	// 上一次变更还没提交时不允许新的变更
	if r.configurations.latestIndex == r.configurations.commitIndex &&
		r.getCommitIndex() >= r.leaderState.commitment.startIndex {
		return r.configurationChangeCh
	}
	return nil
}

func (r *Raft) appendConfigurationEntry(c *configurationChangeFuture) {
	newConfiguration, err := calcNewConfiguration(r.configurations.latest, r.configurations.latestIndex, c.req)
	if err != nil {
		c.fail(err)
		return
	}
	// 日志还没写入，但 leader 主循环是单线程的，索引可以提前确定
	newConfiguration.OpIDIndex = int64(r.getLastIndex() + 1)
	c.log = &LogEntry{
		Data: EncodeGroupConfig(newConfiguration),
		Type: LogConfiguration,
	}
	if r.dispatchLogs([]*LogFuture{&c.LogFuture}) != nil {
		return
	}
	r.setLatestConfiguration(newConfiguration, c.log.Index)
	r.leaderState.commitment.setConfiguration(newConfiguration)
	r.reloadReplication()
}

func (r *Raft) logApply(logFuture *LogFuture, stepDown bool) {
	accumulate := func(first *LogFuture) (entries []*LogFuture) {
		entries = []*LogFuture{first}
		for i := 0; i < r.Config().MaxAppendEntries; i++ {
			select {
			case lf := <-r.applyCh:
				entries = append(entries, lf)
			default:
				return
			}
		}
		return
	}
	entries := accumulate(logFuture)
	if stepDown {
		for _, entry := range entries {
			entry.fail(ErrNotLeader)
		}
		return
	}
	r.dispatchLogs(entries)
}

func (r *Raft) cycleLeader() {
	var stepDown bool
	r.initLeaderState()
	defer func() {
		r.setLastContact()
		r.leaderState.close()
		r.updateLeaderInfo(func(s *ServerInfo) {
			if s.Addr == r.localInfo.Addr && s.ID == r.localInfo.ID {
				*s = ServerInfo{}
			}
		})
	}()

	r.reloadReplication()

	// 成为领导者后首先提交一条空日志，提交成功代表之前任期的日志均已提交
	noop := &LogFuture{log: &LogEntry{Type: LogNoop}}
	noop.init()
	if err := r.dispatchLogs([]*LogFuture{noop}); err != nil {
		return
	}

	leadershipCheckCh := time.After(r.Config().LeadershipTimeout)

	runLeader := func() (shouldContinue bool) {
		select {
		case <-r.shutDownCh():
			return
		case cmd := <-r.cmdChan:
			r.processCMD(cmd)
		case verify := <-r.verifyCh:
			r.leaderVerify(verify)
		case logFuture := <-r.applyCh: // 日志提交
			r.logApply(logFuture, stepDown)
		case <-r.leaderState.stepDown:
			r.setFollower()
		case <-r.leaderState.commitCh:
			oldCommitIndex := r.getCommitIndex()
			commitIndex := r.leaderState.commitment.GetCommitIndex()
			r.updateCommitIndex(commitIndex)
			if r.configurations.latestIndex > oldCommitIndex &&
				r.configurations.latestIndex <= commitIndex {
				r.setCommittedConfiguration(r.configurations.latest, r.configurations.latestIndex)
				if !canVote(r.configurations.latest, r.localInfo.ID) {
					stepDown = true
				}
			}
			groupFutures := map[uint64]*LogFuture{}
			for e := r.leaderState.inflight.Front(); e != nil; {
				lf := e.Value.(*LogFuture)
				if lf.log.Index > commitIndex {
					break
				}
				groupFutures[lf.log.Index] = lf
				next := e.Next()
				r.leaderState.inflight.Remove(e)
				e = next
			}
			r.processLogs(commitIndex, groupFutures)
			if !stepDown {
				return true
			}
			if r.Config().ShutdownOnRemove {
				r.ShutDown()
			} else {
				r.setFollower()
			}
		case <-leadershipCheckCh:
			if keep, maxDiff := r.checkLeadership(); keep {
				leadershipCheckCh = time.After(Max(r.Config().LeadershipTimeout-maxDiff, minLeadershipTimeout))
			} else {
				r.logger.Warnf("failed to contact quorum of nodes, stepping down")
				r.setFollower()
				return
			}
		case c := <-r.configurationsGetCh:
			c.responded(r.configurations.Clone(), nil)
		case c := <-r.configurationChangeChIfStable():
			r.appendConfigurationEntry(c)
		case b := <-r.bootstrapCh:
			b.fail(ErrCantBootstrap)
		}
		return true
	}
	r.while(Leader, runLeader)
}
