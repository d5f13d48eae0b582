package services

import (
	"testing"
	"time"
)

func TestInMemoryBrokerProduceConsume(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	ch, err := broker.Consume("match-results")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	want := BrokerMessage{Topic: "match-results", Key: "msg-1", Value: []byte(`{"home_team":"a"}`)}
	if err := broker.Produce(want); err != nil {
		t.Fatalf("failed to produce: %v", err)
	}

	select {
	case got := <-ch:
		if got.Key != want.Key || string(got.Value) != string(want.Value) {
			t.Errorf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryBrokerDropsWithoutConsumer(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	// 没有订阅者时消息丢弃，但不返回错误
	if err := broker.Produce(BrokerMessage{Topic: "orphan", Value: []byte("x")}); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
}

func TestInMemoryBrokerClose(t *testing.T) {
	broker := NewInMemoryBroker()

	ch, err := broker.Consume("match-results")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if err := broker.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Error("expected consumer channel to be closed")
	}

	if err := broker.Produce(BrokerMessage{Topic: "match-results"}); err == nil {
		t.Error("expected produce after close to fail")
	}

	// 重复关闭是安全的
	if err := broker.Close(); err != nil {
		t.Errorf("expected repeated close to be a no-op, got %v", err)
	}
}
