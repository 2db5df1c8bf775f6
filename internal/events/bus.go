package events

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const memoryStreamMaxLen = 10000

// MemoryBus is an in-process domain.SignalBus used when Redis is not
// configured. Subscribers that fall behind lose messages.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[int]subscription
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     map[string]uint64
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[int]subscription),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]uint64),
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel, which may contain glob wildcards. The
// returned channel closes when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// StreamAppend appends payload to stream, trimming the oldest entries past
// the length cap.
func (b *MemoryBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[stream]++
	msg := domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.seq[stream]),
		Payload: append([]byte(nil), payload...),
	}
	entries := append(b.streams[stream], msg)
	if len(entries) > memoryStreamMaxLen {
		entries = entries[len(entries)-memoryStreamMaxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID. "$" reads nothing,
// "0" or "0-0" reads from the start.
func (b *MemoryBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, fmt.Errorf("events: stream read %s: %w", stream, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	head, _, _ := strings.Cut(id, "-")
	return strconv.ParseUint(head, 10, 64)
}

func matches(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

var _ domain.SignalBus = (*MemoryBus)(nil)
