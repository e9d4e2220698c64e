package client

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// TombstoneCache 记录已知被删除的联系人 id（附带手机号索引），
// 查询前先问它，命中就直接返回"不存在"，省掉注定失败的网络请求。
// 落盘持久化，重启后依然有效。
type TombstoneCache struct {
	mu     sync.Mutex
	path   string // 为空时只存内存
	ids    map[uint]struct{}
	phones map[string]uint
}

type tombstoneFile struct {
	IDs    []uint          `json:"ids"`
	Phones map[string]uint `json:"phones"`
}

// NewTombstoneCache 创建墓碑缓存，path 指定的文件存在时先加载。
func NewTombstoneCache(path string) (*TombstoneCache, error) {
	t := &TombstoneCache{
		path:   path,
		ids:    make(map[uint]struct{}),
		phones: make(map[string]uint),
	}
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, err
	}
	var f tombstoneFile
	if err := json.Unmarshal(data, &f); err != nil {
		// 文件损坏就从空集重来，墓碑只是优化，不值得报死。
		return t, nil
	}
	for _, id := range f.IDs {
		t.ids[id] = struct{}{}
	}
	for p, id := range f.Phones {
		t.phones[p] = id
	}
	return t, nil
}

// Add 记录一个已删除的联系人。phone 可以为空（404 时未必知道号码）。
func (t *TombstoneCache) Add(contactID uint, phone string) {
	t.mu.Lock()
	t.ids[contactID] = struct{}{}
	if phone != "" {
		t.phones[phone] = contactID
	}
	t.persist()
	t.mu.Unlock()
}

// Has 报告联系人 id 是否已知被删除。
func (t *TombstoneCache) Has(contactID uint) bool {
	t.mu.Lock()
	_, ok := t.ids[contactID]
	t.mu.Unlock()
	return ok
}

// Remove 清除 id 对应的墓碑，联系人重新出现时调用。
func (t *TombstoneCache) Remove(contactID uint) {
	t.mu.Lock()
	delete(t.ids, contactID)
	for p, id := range t.phones {
		if id == contactID {
			delete(t.phones, p)
		}
	}
	t.persist()
	t.mu.Unlock()
}

// RemoveByPhone 清除手机号对应的墓碑。用户删掉又重新添加同一个
// 号码时靠它解锁，否则会被永远挡在缓存外。
func (t *TombstoneCache) RemoveByPhone(phone string) {
	t.mu.Lock()
	if id, ok := t.phones[phone]; ok {
		delete(t.ids, id)
		delete(t.phones, phone)
		t.persist()
	}
	t.mu.Unlock()
}

// Len 返回墓碑条数。
func (t *TombstoneCache) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// persist 调用方必须持有锁。写失败静默忽略：墓碑丢了最多多打
// 几次注定 404 的请求。
func (t *TombstoneCache) persist() {
	if t.path == "" {
		return
	}
	f := tombstoneFile{IDs: make([]uint, 0, len(t.ids)), Phones: t.phones}
	for id := range t.ids {
		f.IDs = append(f.IDs, id)
	}
	if data, err := json.Marshal(f); err == nil {
		_ = os.WriteFile(t.path, data, 0o600)
	}
}
