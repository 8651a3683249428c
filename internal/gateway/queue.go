package gateway

import "sync"

// chatQueues runs jobs one at a time per chat, in arrival order, while
// different chats proceed concurrently. A chat's worker exits once its
// queue drains.
type chatQueues struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newChatQueues() *chatQueues {
	return &chatQueues{pending: make(map[string][]func())}
}

// Submit queues job behind any earlier jobs for the same chat.
func (q *chatQueues) Submit(chat string, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, running := q.pending[chat]
	q.pending[chat] = append(jobs, job)
	if running {
		return
	}
	q.wg.Add(1)
	go q.drain(chat)
}

func (q *chatQueues) drain(chat string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[chat]
		if len(jobs) == 0 {
			delete(q.pending, chat)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[chat] = jobs[1:]
		q.mu.Unlock()
		job()
	}
}

// Wait blocks until every queued job has run.
func (q *chatQueues) Wait() {
	q.wg.Wait()
}

func (q *chatQueues) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
