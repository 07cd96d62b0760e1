package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	. "github.com/fuyao-w/common-util"

	"github.com/tabkv/syscat/raft"
)

// IdentityResolver 把启动列表里的对端地址解析为永久身份标识。
// 地址不是可靠的长期身份，组建组时必须换成稳定的 id
type IdentityResolver interface {
	ResolveID(addr raft.ServerAddr) (raft.ServerID, error)
}

// StaticResolver 静态的地址到身份映射，测试和单机部署用
type StaticResolver map[raft.ServerAddr]raft.ServerID

func (s StaticResolver) ResolveID(addr raft.ServerAddr) (raft.ServerID, error) {
	id, ok := s[addr]
	if !ok {
		return "", fmt.Errorf("%w: unknown peer address %s", ErrInvalidArgument, addr)
	}
	return id, nil
}

type Options struct {
	// Dir 目录数据所在目录，包含元数据与日志两个 bolt 文件
	Dir       string
	LocalAddr raft.ServerAddr
	// LocalID 为空时 CreateNew 通过 Resolver 解析，解析不到则生成，
	// Load 从持久化的组元数据读取
	LocalID raft.ServerID
	// Peers 启动时的成员地址列表，包含本节点；单节点组只含自己。
	// Load 时用于和持久化的成员集做对称差校验
	Peers    []raft.ServerAddr
	Resolver IdentityResolver
	// Transport 为空时使用进程内传输
	Transport  raft.Transport
	RaftConfig *raft.Config
	Logger     raft.Logger
	// LeaderCallback 获得领导权后运行，结果由监听器捕获
	LeaderCallback func() error
	// FailWriteFraction 以该概率在提交前注入写失败，测试用
	FailWriteFraction float64
}

func (o *Options) validate() error {
	if len(o.Dir) == 0 {
		return fmt.Errorf("%w: empty data dir", ErrInvalidArgument)
	}
	if len(o.LocalAddr) == 0 {
		return fmt.Errorf("%w: empty local address", ErrInvalidArgument)
	}
	return nil
}

func (o *Options) raftConfig() *raft.Config {
	conf := o.RaftConfig
	if conf == nil {
		conf = raft.DefaultConfig()
	}
	conf.LocalID = o.LocalID
	conf.LocalAddr = o.LocalAddr
	if conf.Logger == nil {
		conf.Logger = o.Logger
	}
	return conf
}

func (o *Options) metaPath() string {
	return filepath.Join(o.Dir, "meta.db")
}

func (o *Options) walPath() string {
	return filepath.Join(o.Dir, "wal.db")
}

func (o *Options) resolveID(addr raft.ServerAddr) (raft.ServerID, error) {
	if o.Resolver != nil {
		return o.Resolver.ResolveID(addr)
	}
	return raft.ServerID(raft.GenerateUUID()), nil
}

// CreateNew 组建一个全新的目录复制组：持久化模式和本节点身份，
// 把启动地址解析为稳定身份后写入初始成员配置，任期从最小值开始。
// 同一个组的每个节点都各自执行一次，写入的初始配置必须一致
func CreateNew(opts Options) (*Catalog, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}
	if len(opts.Peers) == 0 {
		opts.Peers = []raft.ServerAddr{opts.LocalAddr}
	}

	meta, err := openMetaStore(opts.metaPath())
	if err != nil {
		return nil, err
	}
	schema := BuildTableSchema()
	if err = meta.SaveSchema(schema); err != nil {
		meta.Close()
		return nil, err
	}

	config := raft.GroupConfig{OpIDIndex: raft.InvalidOpIDIndex}
	var foundSelf bool
	for _, addr := range opts.Peers {
		id, rErr := opts.resolveID(addr)
		if rErr != nil {
			meta.Close()
			return nil, rErr
		}
		if addr == opts.LocalAddr {
			foundSelf = true
			if len(opts.LocalID) == 0 {
				opts.LocalID = id
			} else {
				id = opts.LocalID
			}
		}
		config.Servers = append(config.Servers, raft.ServerInfo{
			Suffrage: raft.Voter,
			ID:       id,
			Addr:     addr,
		})
	}
	if !foundSelf {
		meta.Close()
		return nil, fmt.Errorf("%w: local address %s not in peer list", ErrInvalidArgument, opts.LocalAddr)
	}
	if err = raft.ValidateGroupConfig(config); err != nil {
		meta.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	if err = meta.SaveLocalID(opts.LocalID); err != nil {
		meta.Close()
		return nil, err
	}
	if err = meta.SaveGroupConfig(config); err != nil {
		meta.Close()
		return nil, err
	}

	wal, err := raft.NewBoltStore(opts.walPath())
	if err != nil {
		meta.Close()
		return nil, err
	}
	if err = raft.BootstrapNewGroup(opts.raftConfig(), wal, wal, config); err != nil {
		wal.Close()
		meta.Close()
		return nil, err
	}
	return newCatalog(opts, meta, wal, NewTableStore(), schema, 0)
}

// Load 打开已有的目录：校验模式没有变化，校验持久化的成员集和
// 启动列表一致，把已提交的日志前缀重放进行存储后再启动共识
func Load(opts Options) (*Catalog, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	meta, err := openMetaStore(opts.metaPath())
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Catalog, error) {
		meta.Close()
		return nil, err
	}

	schema, ok, err := meta.LoadSchema()
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(fmt.Errorf("%w: missing table schema metadata", ErrCorruption))
	}
	if expected := BuildTableSchema(); !schema.Equal(expected) {
		return fail(fmt.Errorf("%w: unexpected table schema %+v", ErrCorruption, schema))
	}

	localID, ok, err := meta.LoadLocalID()
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(fmt.Errorf("%w: missing local identity metadata", ErrCorruption))
	}
	opts.LocalID = localID

	config, ok, err := meta.LoadGroupConfig()
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(fmt.Errorf("%w: missing group config metadata", ErrCorruption))
	}
	if err = raft.ValidateGroupConfig(config); err != nil {
		return fail(fmt.Errorf("%w: unexpected group config: %s", ErrCorruption, err))
	}
	if len(opts.Peers) > 0 {
		if diff := peerSetDiff(opts.Peers, config); len(diff) > 0 {
			return fail(fmt.Errorf("%w: on-disk and provided peer sets differ: %v", ErrInvalidArgument, diff))
		}
	}

	wal, err := raft.NewBoltStore(opts.walPath())
	if err != nil {
		return fail(err)
	}
	store := NewTableStore()
	committedIndex, err := replayCommittedPrefix(store, wal)
	if err != nil {
		wal.Close()
		return fail(err)
	}
	return newCatalog(opts, meta, wal, store, schema, committedIndex)
}

// peerSetDiff 返回启动列表与持久化成员集的对称差
func peerSetDiff(peers []raft.ServerAddr, config raft.GroupConfig) (diff []raft.ServerAddr) {
	var (
		provided  = make(map[raft.ServerAddr]bool, len(peers))
		persisted = make(map[raft.ServerAddr]bool, len(config.Servers))
	)
	for _, addr := range peers {
		provided[addr] = true
	}
	for _, server := range config.Servers {
		persisted[server.Addr] = true
		if !provided[server.Addr] {
			diff = append(diff, server.Addr)
		}
	}
	for addr := range provided {
		if !persisted[addr] {
			diff = append(diff, addr)
		}
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i] < diff[j] })
	return
}

// replayCommittedPrefix 把已提交的日志前缀重放进行存储，
// 未提交的尾部留给共识层重新裁决
func replayCommittedPrefix(store *TableStore, wal *raft.BoltStore) (uint64, error) {
	committedIndex, err := raft.LoadCommittedIndex(wal)
	if err != nil {
		return 0, err
	}
	if committedIndex == 0 {
		return 0, nil
	}
	firstIndex, err := wal.FirstIndex()
	if err != nil {
		return 0, err
	}
	for i := firstIndex; i <= committedIndex; i++ {
		entry, err := wal.GetLog(i)
		if err != nil {
			return 0, fmt.Errorf("%w: committed log entry %d unreadable: %s", ErrCorruption, i, err)
		}
		switch entry.Type {
		case raft.LogCommand:
			if result := store.Apply(entry); result != nil {
				if applyErr, isErr := result.(error); isErr {
					return 0, fmt.Errorf("%w: committed log entry %d: %s", ErrCorruption, i, applyErr)
				}
			}
		case raft.LogConfiguration:
			store.StoreConfiguration(entry.Index, raft.DecodeGroupConfig(entry.Data))
		}
	}
	return committedIndex, nil
}

func newCatalog(opts Options, meta *metaStore, wal *raft.BoltStore, store *TableStore, schema Schema, initialApplied uint64) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = raft.NewStdLogger(fmt.Sprintf("catalog-%s ", opts.LocalID))
		opts.Logger = logger
	}
	store.meta = meta
	store.logger = logger

	conf := opts.raftConfig()
	conf.InitialApplied = initialApplied
	trans := opts.Transport
	if trans == nil {
		trans = raft.NewMemTransportWithAddr(opts.LocalAddr)
	}
	r, err := raft.NewRaft(conf, store, wal, wal, trans)
	if err != nil {
		wal.Close()
		meta.Close()
		return nil, err
	}

	c := &Catalog{
		opts:         opts,
		logger:       logger,
		schema:       schema,
		store:        store,
		meta:         meta,
		wal:          wal,
		raft:         r,
		registry:     NewRegistry(),
		failFraction: raft.NewAtomicVal[float64](),
		initialized:  raft.NewAtomicVal[bool](),
		lastListener: NewLockItem[ListenerResult](),
		shutdownCh:   make(chan struct{}),
	}
	c.failFraction.Store(opts.FailWriteFraction)

	id, ch := r.SubscribeRoleChange()
	c.listenerID = id
	c.wg.Add(1)
	go c.runRoleListener(ch)

	c.initialized.Store(true)
	return c, nil
}
