package catalog

import (
	"encoding/json"
	"fmt"
)

type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RowOp 单行变更，删除时 Metadata 为空
type RowOp struct {
	Kind     OpKind    `json:"kind"`
	Type     EntryType `json:"entry_type"`
	ID       string    `json:"entry_id"`
	Metadata []byte    `json:"metadata,omitempty"`
}

// WriteRequest 一次同步写请求，整体作为一条日志记录提交
type WriteRequest struct {
	GroupID string  `json:"group_id"`
	Ops     []RowOp `json:"ops"`
}

// RowError 行级失败，放在成功的响应信封里返回
type RowError struct {
	Type EntryType `json:"entry_type"`
	ID   string    `json:"entry_id"`
	Msg  string    `json:"message"`
}

type WriteResponse struct {
	// Index 该请求对应的日志索引
	Index        uint64     `json:"index"`
	PerRowErrors []RowError `json:"per_row_errors,omitempty"`
}

func EncodeWriteRequest(req *WriteRequest) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	var req WriteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: undecodable write payload: %s", ErrInvalidArgument, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (req *WriteRequest) validate() error {
	for i, op := range req.Ops {
		switch {
		case op.Kind < OpInsert || op.Kind > OpDelete:
			return fmt.Errorf("%w: op %d has unknown kind %d", ErrInvalidArgument, i, op.Kind)
		case !validEntryType(op.Type):
			return fmt.Errorf("%w: op %d has unknown entry type %d", ErrInvalidArgument, i, op.Type)
		case len(op.ID) == 0:
			return fmt.Errorf("%w: op %d has empty entry id", ErrInvalidArgument, i)
		case op.Kind != OpDelete && len(op.Metadata) == 0:
			return fmt.Errorf("%w: op %d (%s %s) has empty metadata", ErrInvalidArgument, i, op.Kind, op.Type)
		}
	}
	return nil
}

type (
	TableItem struct {
		ID       string
		Metadata *TableMetadata
	}
	TabletItem struct {
		ID       string
		Metadata *TabletMetadata
	}
	// Actions 组装一次目录变更，所有操作进入同一条日志记录，
	// 要么一起提交要么一起丢弃
	Actions struct {
		TablesToAdd     []TableItem
		TablesToUpdate  []TableItem
		TablesToDelete  []string
		TabletsToAdd    []TabletItem
		TabletsToUpdate []TabletItem
		TabletsToDelete []string
	}
)

func (a *Actions) BuildRequest() (*WriteRequest, error) {
	req := &WriteRequest{GroupID: GroupID}
	appendTable := func(kind OpKind, item TableItem) error {
		data, err := EncodeTableMetadata(item.Metadata)
		if err != nil {
			return fmt.Errorf("encode table %s: %w", item.ID, err)
		}
		req.Ops = append(req.Ops, RowOp{Kind: kind, Type: EntryTable, ID: item.ID, Metadata: data})
		return nil
	}
	appendTablet := func(kind OpKind, item TabletItem) error {
		data, err := EncodeTabletMetadata(item.Metadata)
		if err != nil {
			return fmt.Errorf("encode tablet %s: %w", item.ID, err)
		}
		req.Ops = append(req.Ops, RowOp{Kind: kind, Type: EntryTablet, ID: item.ID, Metadata: data})
		return nil
	}
	for _, item := range a.TablesToAdd {
		if err := appendTable(OpInsert, item); err != nil {
			return nil, err
		}
	}
	for _, item := range a.TablesToUpdate {
		if err := appendTable(OpUpdate, item); err != nil {
			return nil, err
		}
	}
	for _, id := range a.TablesToDelete {
		req.Ops = append(req.Ops, RowOp{Kind: OpDelete, Type: EntryTable, ID: id})
	}
	for _, item := range a.TabletsToAdd {
		if err := appendTablet(OpInsert, item); err != nil {
			return nil, err
		}
	}
	for _, item := range a.TabletsToUpdate {
		if err := appendTablet(OpUpdate, item); err != nil {
			return nil, err
		}
	}
	for _, id := range a.TabletsToDelete {
		req.Ops = append(req.Ops, RowOp{Kind: OpDelete, Type: EntryTablet, ID: id})
	}
	return req, req.validate()
}
