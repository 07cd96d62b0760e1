package raft

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testFSM struct {
	lock sync.Mutex
	logs [][]byte
}

func (f *testFSM) Apply(entry *LogEntry) interface{} {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.logs = append(f.logs, append([]byte(nil), entry.Data...))
	return len(f.logs)
}

func (f *testFSM) length() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.logs)
}

func (f *testFSM) get(i int) []byte {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logs[i]
}

type clusterNode struct {
	raft  *Raft
	fsm   *testFSM
	store *MemoryStore
	trans *MemTransport
}

func testConfig(id ServerID, addr ServerAddr) *Config {
	conf := DefaultConfig()
	conf.LocalID = id
	conf.LocalAddr = addr
	conf.HeartBeatTimeout = 100 * time.Millisecond
	conf.ElectionTimeout = 100 * time.Millisecond
	conf.LeadershipTimeout = 100 * time.Millisecond
	conf.CommitTimeout = 10 * time.Millisecond
	return conf
}

// makeCluster 组建 n 个互联节点并在每个节点上写入相同的初始配置
func makeCluster(t *testing.T, n int) []*clusterNode {
	var (
		nodes  []*clusterNode
		config GroupConfig
	)
	for i := 0; i < n; i++ {
		id := ServerID(fmt.Sprintf("node-%d", i))
		config.Servers = append(config.Servers, ServerInfo{
			Suffrage: Voter,
			ID:       id,
			Addr:     ServerAddr(id),
		})
	}
	for i := 0; i < n; i++ {
		server := config.Servers[i]
		node := &clusterNode{
			fsm:   new(testFSM),
			store: NewMemoryStore(),
			trans: NewMemTransportWithAddr(server.Addr),
		}
		raft, err := NewRaft(testConfig(server.ID, server.Addr), node.fsm, node.store, node.store, node.trans)
		if err != nil {
			t.Fatalf("NewRaft :%s", err)
		}
		node.raft = raft
		nodes = append(nodes, node)
	}
	for _, node := range nodes {
		for _, peer := range nodes {
			if peer != node {
				node.trans.Connect(peer.trans.LocalAddr(), peer.trans)
			}
		}
	}
	for _, node := range nodes {
		if _, err := node.raft.BootstrapGroup(config).Response(); err != nil {
			t.Fatalf("bootstrap :%s", err)
		}
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			node.raft.ShutDown().Response()
		}
	})
	return nodes
}

func waitForLeader(t *testing.T, nodes []*clusterNode) *clusterNode {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, node := range nodes {
			if node.raft.State() == Leader {
				return node
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected")
	return nil
}

func TestSingleNodeElection(t *testing.T) {
	nodes := makeCluster(t, 1)
	node := nodes[0]

	check(node.raft.WaitUntilRunning(5*time.Second) == nil, t, "wait until running")
	check(node.raft.State() == Leader, t, "single voter should self elect", node.raft.State())

	resp, err := node.raft.Apply([]byte("hello"), time.Second).Response()
	check(err == nil, t, "apply", err)
	check(resp.(int) == 1, t, "fsm response", resp)
	check(string(node.fsm.get(0)) == "hello", t)
	check(node.raft.CurrentTerm() >= MinimumTerm, t, node.raft.CurrentTerm())

	commit, latest, err := node.raft.ReadConfigurations()
	check(err == nil, t, err)
	check(latest.HasServer("node-0"), t, latest)
	check(len(commit.Servers) == 1, t, "initial config should be committed", commit)
}

func TestClusterElectionAndApply(t *testing.T) {
	nodes := makeCluster(t, 3)
	leader := waitForLeader(t, nodes)

	const total = 10
	for i := 0; i < total; i++ {
		_, err := leader.raft.Apply([]byte(fmt.Sprintf("entry-%d", i)), 2*time.Second).Response()
		check(err == nil, t, "apply", i, err)
	}

	// follower 通过心跳得知提交位置后追平
	deadline := time.Now().Add(10 * time.Second)
	for _, node := range nodes {
		for node.fsm.length() < total {
			if time.Now().After(deadline) {
				t.Fatalf("node %s applied %d of %d", node.raft.localInfo.ID, node.fsm.length(), total)
			}
			time.Sleep(20 * time.Millisecond)
		}
		for i := 0; i < total; i++ {
			check(string(node.fsm.get(i)) == fmt.Sprintf("entry-%d", i), t, "log order", i)
		}
	}
}

func TestApplyOnNonLeader(t *testing.T) {
	nodes := makeCluster(t, 3)
	leader := waitForLeader(t, nodes)

	for _, node := range nodes {
		if node == leader {
			continue
		}
		_, err := node.raft.Apply([]byte("x"), time.Second).Response()
		if !errors.Is(err, ErrNotLeader) {
			t.Fatalf("expected ErrNotLeader ,got :%v", err)
		}
	}
}

func TestWaitUntilRunning(t *testing.T) {
	store := NewMemoryStore()
	trans := NewMemTransport()
	raft, err := NewRaft(testConfig("lonely", trans.LocalAddr()), new(testFSM), store, store, trans)
	check(err == nil, t, err)
	defer func() { raft.ShutDown().Response() }()

	// 没有配置的节点永远不会可用
	if err = raft.WaitUntilRunning(200 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout ,got :%v", err)
	}
}

func TestRoleChangeSubscription(t *testing.T) {
	store := NewMemoryStore()
	trans := NewMemTransport()
	raft, err := NewRaft(testConfig("solo", trans.LocalAddr()), new(testFSM), store, store, trans)
	check(err == nil, t, err)
	defer func() { raft.ShutDown().Response() }()

	id, ch := raft.SubscribeRoleChange()
	defer raft.UnsubscribeRoleChange(id)

	config := GroupConfig{Servers: []ServerInfo{{Suffrage: Voter, ID: "solo", Addr: trans.LocalAddr()}}}
	_, err = raft.BootstrapGroup(config).Response()
	check(err == nil, t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-ch:
			t.Logf("role change :%s term :%d", event.Role, event.Term)
			if event.Role == Leader {
				check(event.Term >= MinimumTerm, t, event.Term)
				return
			}
		case <-deadline:
			t.Fatal("leader role change not observed")
		}
	}
}

func TestLeadershipLostFailsInflight(t *testing.T) {
	nodes := makeCluster(t, 3)
	leader := waitForLeader(t, nodes)

	// 断开 leader 的出站连接，未复制的日志最终以领导权丢失失败
	leader.trans.DisconnectAll()
	fu := leader.raft.Apply([]byte("doomed"), 5*time.Second)
	_, err := fu.Response()
	if err == nil {
		t.Fatal("apply should not succeed without quorum")
	}
	if !errors.Is(err, ErrLeadershipLost) && !errors.Is(err, ErrNotLeader) && !errors.Is(err, ErrTimeout) {
		t.Fatalf("unexpected error :%v", err)
	}
}

func TestBootstrapTwice(t *testing.T) {
	nodes := makeCluster(t, 1)
	node := nodes[0]
	waitForLeader(t, nodes)

	config := GroupConfig{Servers: []ServerInfo{{Suffrage: Voter, ID: "node-0", Addr: "node-0"}}}
	_, err := node.raft.BootstrapGroup(config).Response()
	if !errors.Is(err, ErrCantBootstrap) {
		t.Fatalf("expected ErrCantBootstrap ,got :%v", err)
	}
}
