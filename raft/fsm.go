package raft

// FSM 复制状态机，Apply 的返回值会透传给提交者的 future
type FSM interface {
	Apply(entry *LogEntry) interface{}
}

// commitTuple is used to send an index that was committed,
// with an optional associated future that should be invoked.
type commitTuple struct {
	log    *LogEntry
	future *LogFuture
}

// runFSM 独立的状态机循环，保证日志严格按提交顺序应用。
// future 在条目应用之后才会返回，同步写网关因此能保证
// "已提交且已应用" 的语义。
func (r *Raft) runFSM() {
	configurationStore, configStoreOK := r.fsm.(ConfigurationStore)
	applySingle := func(tuple *commitTuple) {
		var resp interface{}
		defer func() {
			if tuple.future != nil {
				tuple.future.responded(resp, nil)
			}
		}()
		switch tuple.log.Type {
		case LogCommand:
			resp = r.fsm.Apply(tuple.log)
		case LogConfiguration:
			if !configStoreOK {
				return
			}
			configurationStore.StoreConfiguration(tuple.log.Index, DecodeGroupConfig(tuple.log.Data))
		}
	}
	for {
		select {
		case <-r.shutDownCh():
			return
		case tuples := <-r.fsmMutateCh:
			for _, tuple := range tuples {
				applySingle(tuple)
			}
		}
	}
}
