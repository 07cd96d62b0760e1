package raft

import "testing"

func voterConfig(ids ...ServerID) GroupConfig {
	var c GroupConfig
	for _, id := range ids {
		c.Servers = append(c.Servers, ServerInfo{Suffrage: Voter, ID: id, Addr: ServerAddr(id)})
	}
	return c
}

func TestCommitmentMajority(t *testing.T) {
	commitCh := make(chan struct{}, 1)
	c := newCommitment(commitCh, voterConfig("1", "2", "3"), 1)

	c.match("1", 1)
	check(c.GetCommitIndex() == 0, t, "single match should not commit", c.GetCommitIndex())

	c.match("2", 1)
	check(c.GetCommitIndex() == 1, t, "majority should commit", c.GetCommitIndex())
	select {
	case <-commitCh:
	default:
		t.Fatal("commit notify missing")
	}

	c.match("1", 3)
	check(c.GetCommitIndex() == 1, t, "minority advance should not move commit", c.GetCommitIndex())
	c.match("3", 2)
	check(c.GetCommitIndex() == 2, t, "median is the quorum index", c.GetCommitIndex())
}

func TestCommitmentStartIndex(t *testing.T) {
	c := newCommitment(make(chan struct{}, 1), voterConfig("1", "2", "3"), 5)
	c.match("1", 3)
	c.match("2", 3)
	c.match("3", 3)
	// 之前任期的日志不能直接按计数提交
	check(c.GetCommitIndex() == 0, t, c.GetCommitIndex())
	c.match("1", 5)
	c.match("2", 5)
	check(c.GetCommitIndex() == 5, t, c.GetCommitIndex())
}

func TestCommitmentNonVoterIgnored(t *testing.T) {
	config := voterConfig("1", "2")
	config.Servers = append(config.Servers, ServerInfo{Suffrage: NonVoter, ID: "3", Addr: "3"})
	c := newCommitment(make(chan struct{}, 1), config, 1)
	c.match("3", 9)
	check(c.GetCommitIndex() == 0, t, "non voter must not advance commit", c.GetCommitIndex())
	c.match("1", 2)
	c.match("2", 1)
	check(c.GetCommitIndex() == 1, t, c.GetCommitIndex())
}

func TestCommitmentSetConfiguration(t *testing.T) {
	c := newCommitment(make(chan struct{}, 1), voterConfig("1", "2", "3"), 1)
	c.match("1", 4)
	c.match("2", 2)
	check(c.GetCommitIndex() == 2, t, c.GetCommitIndex())

	// 缩成双节点后法定人数变化，立即重算
	c.setConfiguration(voterConfig("1", "2"))
	check(c.GetCommitIndex() == 2, t, c.GetCommitIndex())
	c.match("2", 4)
	check(c.GetCommitIndex() == 4, t, c.GetCommitIndex())
}
