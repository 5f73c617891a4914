package system

import (
	"fmt"
	"sync"
)

// indexKey identifies a live system by kind and id. Each kind keeps its
// own id space ("ChatSystem" 7 and "GameSystem" 7 may coexist).
type indexKey struct {
	kind string
	id   int64
}

var (
	indexMu sync.Mutex
	index   = make(map[indexKey]any)
)

// register inserts a system into the process-global index. A duplicate
// (kind, id) pair is an invariant violation in the caller.
func register(kind string, id int64, s any) error {
	indexMu.Lock()
	defer indexMu.Unlock()
	key := indexKey{kind: kind, id: id}
	if _, ok := index[key]; ok {
		return fmt.Errorf("system %s (id=%d) already exists", kind, id)
	}
	index[key] = s
	return nil
}

// deregister removes a system from the index. Missing entries are
// tolerated so Stop stays idempotent.
func deregister(kind string, id int64) {
	indexMu.Lock()
	defer indexMu.Unlock()
	delete(index, indexKey{kind: kind, id: id})
}

// Lookup returns the live system registered under (kind, id), if any.
// The caller asserts the concrete type.
func Lookup[T any](kind string, id int64) (T, bool) {
	indexMu.Lock()
	defer indexMu.Unlock()
	var zero T
	v, ok := index[indexKey{kind: kind, id: id}]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
