// =============================================================================
// 文件: internal/sender/pending.go
// 描述: 待确认表 - 在途消息跟踪 (发送时间 + 重试计数 + 上限约束)
// =============================================================================
package sender

import (
	"sort"
	"sync"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

// PendingEntry 一条在途消息
// 不变式: Retries <= 表的重试上限; 条目存在当且仅当消息已发送至少一次
// 且尚未被确认、尚未被放弃
type PendingEntry struct {
	Msg      *protocol.DataMessage
	LastSent time.Time // 最近一次发送时间 (重传会刷新)
	Retries  int       // 已重传次数 (首发为 0)
}

// PendingTable 待确认表
// 发送路径、确认路径、重传调度器并发访问，全部经由互斥锁串行化。
// 确认与重传竞争同一条目时确认优先: 确认先删除条目，
// 随后的重传扫描看不到该条目即为空操作。
type PendingTable struct {
	entries    map[int32]*PendingEntry
	maxRetries int

	mu sync.Mutex
}

// NewPendingTable 创建待确认表
func NewPendingTable(maxRetries int) *PendingTable {
	return &PendingTable{
		entries:    make(map[int32]*PendingEntry),
		maxRetries: maxRetries,
	}
}

// RecordSent 记录首发
// 新建条目，重试计数归零; 同一 id 重复首发视为全新发送
func (t *PendingTable) RecordSent(msg *protocol.DataMessage, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[msg.ID] = &PendingEntry{
		Msg:      msg,
		LastSent: now,
		Retries:  0,
	}
}

// Refresh 重传写入成功后刷新发送时间，保留重试计数
// 条目已被确认移除时为空操作 (确认优先)
func (t *PendingTable) Refresh(id int32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		e.LastSent = now
	}
}

// Ack 确认指定 id，返回是否删除了条目
// id 不在表中 (重复或迟到的确认) 为空操作，不是错误
func (t *PendingTable) Ack(id int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Collect 重传调度: 扫描超时条目
// 未达上限的条目重试计数 +1、刷新时间戳并返回待重传列表;
// 已达上限的条目被删除并返回放弃列表。
// 两个列表都按 id 升序排列，保证测试可复现
func (t *PendingTable) Collect(now time.Time, timeout time.Duration) (retries []*PendingEntry, abandoned []*PendingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := t.entries[id]
		if now.Sub(e.LastSent) <= timeout {
			continue
		}

		if e.Retries < t.maxRetries {
			e.Retries++
			e.LastSent = now
			retries = append(retries, &PendingEntry{
				Msg:      e.Msg,
				LastSent: e.LastSent,
				Retries:  e.Retries,
			})
		} else {
			delete(t.entries, id)
			abandoned = append(abandoned, e)
		}
	}

	return retries, abandoned
}

// Contains 条目是否仍在表中
func (t *PendingTable) Contains(id int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Len 在途条目数
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Discard 丢弃全部条目 (进入终态时调用)
func (t *PendingTable) Discard() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	t.entries = make(map[int32]*PendingEntry)
	return n
}

// Get 查询条目快照 (测试用)
func (t *PendingTable) Get(id int32) (PendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return PendingEntry{}, false
	}
	return *e, true
}
