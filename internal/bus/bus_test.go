package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, domain.TopicCaseDisposition, func(_ context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicCaseDisposition, []byte(`{"caseId":1}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != domain.TopicCaseDisposition {
			t.Errorf("topic = %q, want %q", msg.Topic, domain.TopicCaseDisposition)
		}
		if string(msg.Payload) != `{"caseId":1}` {
			t.Errorf("payload = %s", msg.Payload)
		}
		if msg.ID == "" {
			t.Error("expected assigned message ID")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string

	for _, topic := range []string{domain.TopicLeadCaptured, domain.TopicRemediation} {
		topic := topic
		_, err := b.Subscribe(ctx, topic, func(_ context.Context, msg *domain.Message) error {
			mu.Lock()
			got = append(got, msg.Topic)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %s failed: %v", topic, err)
		}
	}

	if err := b.Publish(ctx, domain.TopicLeadCaptured, []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != domain.TopicLeadCaptured {
		t.Errorf("delivered topics = %v, want only lead.captured", got)
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := b.Subscribe(ctx, domain.TopicRemediation, func(_ context.Context, _ *domain.Message) error {
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if err := b.Publish(ctx, domain.TopicRemediation, []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the message")
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping failed on open bus: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Ping(ctx); err == nil {
		t.Error("expected Ping to fail on closed bus")
	}
	if err := b.Publish(ctx, domain.TopicRemediation, nil); err == nil {
		t.Error("expected Publish to fail on closed bus")
	}
	if _, err := b.Subscribe(ctx, domain.TopicRemediation, nil); err == nil {
		t.Error("expected Subscribe to fail on closed bus")
	}

	// Double close is a no-op.
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
