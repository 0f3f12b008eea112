package events

import (
	"log"
	"sync"
)

// subscriber は1接続分の購読状態です。jobIDs が空の場合は全ジョブを購読します。
type subscriber struct {
	ch     chan Event
	jobIDs map[string]bool
}

func (s *subscriber) wants(jobID string) bool {
	if len(s.jobIDs) == 0 {
		return true
	}
	return s.jobIDs[jobID]
}

// Hub はジョブIDをトピックとするイベント配信ハブです。
// 配信はベストエフォートで、バッファの溢れた購読者へのイベントは破棄されます。
// 再送やリプレイは行いません。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	logger      *log.Logger
}

// NewHub は Hub を作成します。
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		logger:      logger,
	}
}

const subscriberBuffer = 16

// Subscribe は指定ジョブのイベント購読を開始します。
// jobIDs が空の場合は全ジョブのイベントを受け取ります（ダッシュボード用途）。
// 返されるキャンセル関数は冪等です。
func (h *Hub) Subscribe(jobIDs ...string) (<-chan Event, func()) {
	sub := &subscriber{
		ch:     make(chan Event, subscriberBuffer),
		jobIDs: make(map[string]bool, len(jobIDs)),
	}
	for _, id := range jobIDs {
		if id != "" {
			sub.jobIDs[id] = true
		}
	}

	h.mu.Lock()
	h.subscribers[sub] = true
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish はイベントを該当トピックの購読者全員へ配信します。
// 受信が追いついていない購読者はスキップされます（at-most-once）。
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if !sub.wants(event.JobID) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Printf("events: dropping %s event for job=%s (slow subscriber)", event.Type, event.JobID)
		}
	}
}

// SubscriberCount は現在の購読者数を返します。
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
