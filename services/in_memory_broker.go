package services

import (
	"errors"
	"sync"

	"league-sync-service/logger"
)

// InMemoryBroker 是 MessageBroker 接口的内存实现，
// QUEUE_MODE=memory 时承担入站队列与死信队列
type InMemoryBroker struct {
	consumers map[string][]chan BrokerMessage
	mu        sync.RWMutex
	closed    bool
}

// NewInMemoryBroker 创建 InMemoryBroker 实例
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		consumers: make(map[string][]chan BrokerMessage),
	}
}

// Produce 实现 MessageBroker 接口
func (b *InMemoryBroker) Produce(msg BrokerMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New("broker is closed")
	}

	consumerChans, ok := b.consumers[msg.Topic]
	if !ok || len(consumerChans) == 0 {
		logger.Warnf("[InMemoryBroker] Topic %s has no active consumers. Message dropped.", msg.Topic)
		return nil
	}

	// 消费组行为简化为投递给第一个消费者；通道满则丢弃（背压）
	select {
	case consumerChans[0] <- msg:
	default:
		logger.Warnf("[InMemoryBroker] Topic %s consumer channel full. Message dropped.", msg.Topic)
	}

	return nil
}

// Consume 实现 MessageBroker 接口
func (b *InMemoryBroker) Consume(topic string) (<-chan BrokerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	consumerChan := make(chan BrokerMessage, 1000)
	b.consumers[topic] = append(b.consumers[topic], consumerChan)

	logger.Printf("[InMemoryBroker] Consumer subscribed to topic %s. Total consumers: %d",
		topic, len(b.consumers[topic]))

	return consumerChan, nil
}

// Close 实现 MessageBroker 接口
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, chans := range b.consumers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.consumers = make(map[string][]chan BrokerMessage)

	logger.Println("[InMemoryBroker] Closed all channels.")
	return nil
}
