package catalog

import "sync"

// Registry 表与 tablet 的内存关系索引，从目录扫描中重建。
// 只保存 id 之间的关系和元数据拷贝，不持有任何存储层对象
type Registry struct {
	mu             sync.RWMutex
	tables         map[string]*TableMetadata
	tablets        map[string]*TabletMetadata
	tabletsByTable map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.tables = map[string]*TableMetadata{}
	r.tablets = map[string]*TabletMetadata{}
	r.tabletsByTable = map[string]map[string]struct{}{}
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func (r *Registry) PutTable(id string, meta *TableMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[id] = meta
}

func (r *Registry) PutTablet(id string, meta *TabletMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tablets[id]; ok {
		delete(r.tabletsByTable[old.TableID], id)
	}
	r.tablets[id] = meta
	set, ok := r.tabletsByTable[meta.TableID]
	if !ok {
		set = map[string]struct{}{}
		r.tabletsByTable[meta.TableID] = set
	}
	set[id] = struct{}{}
}

func (r *Registry) RemoveTable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, id)
}

func (r *Registry) RemoveTablet(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tablets[id]; ok {
		delete(r.tabletsByTable[old.TableID], id)
	}
	delete(r.tablets, id)
}

func (r *Registry) Table(id string) (*TableMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tables[id]
	return meta, ok
}

func (r *Registry) Tablet(id string) (*TabletMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tablets[id]
	return meta, ok
}

// TableOfTablet 从 tablet 反查所属表
func (r *Registry) TableOfTablet(tabletID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tablets[tabletID]
	if !ok {
		return "", false
	}
	return meta.TableID, true
}

func (r *Registry) TabletsOfTable(tableID string) (ids []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.tabletsByTable[tableID] {
		ids = append(ids, id)
	}
	return
}

func (r *Registry) TableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

func (r *Registry) TabletCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tablets)
}
