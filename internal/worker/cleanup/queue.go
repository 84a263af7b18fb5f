// Package cleanup はチャットメッセージの遅延削除を提供する。
// 削除対象をキューに積み、定期ジョブが期限到来分をまとめて削除する。
package cleanup

import (
	"sync"
	"time"
)

// entry は削除待ちの1件。
type entry struct {
	targetID int64
	actionID int
	dueTime  time.Time
}

// Queue は遅延実行する削除対象のキュー。
// 追加と取り出しは1つのmutexで保護され、重複排除は行わない。
type Queue struct {
	mu           sync.Mutex
	entries      []entry
	defaultDelay time.Duration
	now          func() time.Time
}

// NewQueue はQueueを生成する。defaultDelayはEnqueueDefaultで使用する遅延。
func NewQueue(defaultDelay time.Duration) *Queue {
	return &Queue{
		defaultDelay: defaultDelay,
		now:          time.Now,
	}
}

// Enqueue はtargetID（チャットID）のactionID（メッセージID）を
// delay経過後に削除対象とする。
func (q *Queue) Enqueue(targetID int64, actionID int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry{
		targetID: targetID,
		actionID: actionID,
		dueTime:  q.now().Add(delay),
	})
}

// EnqueueDefault はデフォルトの遅延でEnqueueする。
func (q *Queue) EnqueueDefault(targetID int64, actionID int) {
	q.Enqueue(targetID, actionID, q.defaultDelay)
}

// DrainDue は期限到来済み（dueTime <= now）のエントリを取り出し、targetID別にまとめて返す。
// 同一target内の順序は追加順を保つ。該当が無い場合は空のmapを返す。
func (q *Queue) DrainDue() map[int64][]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	due := make(map[int64][]int)
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if !e.dueTime.After(now) {
			due[e.targetID] = append(due[e.targetID], e.actionID)
			continue
		}
		remaining = append(remaining, e)
	}
	// 取り出した分の参照を残さない
	for i := len(remaining); i < len(q.entries); i++ {
		q.entries[i] = entry{}
	}
	q.entries = remaining
	return due
}

// Len はキューに残っているエントリ数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
