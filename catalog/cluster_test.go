package catalog

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabkv/syscat/raft"
)

func makeCatalogCluster(t *testing.T, n int) []*Catalog {
	var (
		resolver = StaticResolver{}
		peers    []raft.ServerAddr
		trans    []*raft.MemTransport
	)
	for i := 0; i < n; i++ {
		addr := raft.ServerAddr(fmt.Sprintf("addr-%d", i))
		resolver[addr] = raft.ServerID(fmt.Sprintf("id-%d", i))
		peers = append(peers, addr)
		trans = append(trans, raft.NewMemTransportWithAddr(addr))
	}
	for i := range trans {
		for j := range trans {
			if i != j {
				trans[i].Connect(trans[j].LocalAddr(), trans[j])
			}
		}
	}
	var nodes []*Catalog
	for i := 0; i < n; i++ {
		c, err := CreateNew(Options{
			Dir:        t.TempDir(),
			LocalAddr:  peers[i],
			Peers:      peers,
			Resolver:   resolver,
			Transport:  trans[i],
			RaftConfig: fastRaftConfig(),
		})
		require.NoError(t, err)
		nodes = append(nodes, c)
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			node.Shutdown()
		}
	})
	return nodes
}

func findLeader(t *testing.T, nodes []*Catalog) *Catalog {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		for _, node := range nodes {
			if node.Raft().State() == raft.Leader {
				return node
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected")
	return nil
}

// writeWithRetry 领导权在写入过程中可能易手，换主重试
func writeWithRetry(t *testing.T, nodes []*Catalog, actions *Actions) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		leader := findLeader(t, nodes)
		resp, err := leader.Write(actions)
		if err == nil {
			require.Empty(t, resp.PerRowErrors)
			return
		}
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) ||
			errors.Is(err, raft.ErrTimeout) || errors.Is(err, raft.ErrEnqueueTimeout) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		t.Fatalf("write :%s", err)
	}
	t.Fatal("write never succeeded")
}

func waitConverged(t *testing.T, nodes []*Catalog, want int) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		leader := findLeader(t, nodes)
		rows := leader.Store().Rows()
		if len(rows) == want {
			matched := 0
			for _, node := range nodes {
				if reflect.DeepEqual(node.Store().Rows(), rows) {
					matched++
				}
			}
			if matched == len(nodes) {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	for _, node := range nodes {
		t.Logf("node %s holds %d rows", node.LocalID(), node.Store().Len())
	}
	t.Fatal("replicas never converged")
}

func TestClusterWriteOnFollower(t *testing.T) {
	nodes := makeCatalogCluster(t, 3)
	leader := findLeader(t, nodes)

	for _, node := range nodes {
		if node == leader {
			continue
		}
		_, err := node.Write(&Actions{
			TablesToAdd: []TableItem{{ID: "t1", Metadata: &TableMetadata{Name: "x"}}},
		})
		assert.ErrorIs(t, err, raft.ErrNotLeader)
		assert.Zero(t, node.Store().Len())
	}
}

func TestClusterReplicationUnderChaos(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	nodes := makeCatalogCluster(t, 3)
	findLeader(t, nodes)

	// 背景噪声：随机抢占 follower 的组锁，模拟状态机卡顿
	stopChaos := make(chan struct{})
	var chaos sync.WaitGroup
	for _, node := range nodes {
		node := node
		chaos.Add(1)
		go func() {
			defer chaos.Done()
			for {
				select {
				case <-stopChaos:
					return
				default:
				}
				if node.Raft().State() == raft.Leader {
					time.Sleep(100 * time.Millisecond)
					continue
				}
				lock := node.Store().GroupLock()
				lock.Lock()
				pause := time.Duration(math.Abs(rand.NormFloat64()) * 0.5 * float64(time.Second))
				if pause > 2*time.Second {
					pause = 2 * time.Second
				}
				time.Sleep(pause)
				lock.Unlock()
				time.Sleep(50 * time.Millisecond)
			}
		}()
	}

	const (
		batches   = 50
		batchSize = 20
	)
	for b := 0; b < batches; b++ {
		actions := new(Actions)
		for i := 0; i < batchSize; i++ {
			id := fmt.Sprintf("table-%04d", b*batchSize+i)
			actions.TablesToAdd = append(actions.TablesToAdd, TableItem{
				ID:       id,
				Metadata: &TableMetadata{Name: id, Version: 1},
			})
		}
		writeWithRetry(t, nodes, actions)
	}
	// 一部分更新和删除
	writeWithRetry(t, nodes, &Actions{
		TablesToUpdate: []TableItem{
			{ID: "table-0000", Metadata: &TableMetadata{Name: "table-0000", Version: 2}},
		},
		TablesToDelete: []string{"table-0001", "table-0002"},
	})

	close(stopChaos)
	chaos.Wait()
	waitConverged(t, nodes, batches*batchSize-2)
}

func TestClusterSurvivesFollowerStop(t *testing.T) {
	nodes := makeCatalogCluster(t, 3)
	leader := findLeader(t, nodes)

	writeWithRetry(t, nodes, &Actions{
		TablesToAdd: []TableItem{{ID: "t1", Metadata: &TableMetadata{Name: "before", Version: 1}}},
	})

	var stopped *Catalog
	for _, node := range nodes {
		if node != leader {
			stopped = node
			break
		}
	}
	require.NoError(t, stopped.Shutdown())

	// 三副本停掉一个仍然有多数派，写入继续成功
	alive := make([]*Catalog, 0, 2)
	for _, node := range nodes {
		if node != stopped {
			alive = append(alive, node)
		}
	}
	writeWithRetry(t, alive, &Actions{
		TablesToAdd: []TableItem{{ID: "t2", Metadata: &TableMetadata{Name: "after", Version: 1}}},
	})
	waitConverged(t, alive, 2)
}
