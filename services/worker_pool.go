package services

import (
	"context"
	"sync"

	"league-sync-service/logger"
)

// IngestPublisher 将一条入站消息发布到队列（web 层的 ingest 入口使用）
type IngestPublisher interface {
	Publish(payload []byte) error
}

// BrokerPublisher 基于 MessageBroker 的发布器，memory 模式下
// 同时承担入站发布与死信发布
type BrokerPublisher struct {
	broker          MessageBroker
	inboundTopic    string
	deadLetterTopic string
}

// NewBrokerPublisher 创建发布器
func NewBrokerPublisher(broker MessageBroker, inboundTopic, deadLetterTopic string) *BrokerPublisher {
	return &BrokerPublisher{
		broker:          broker,
		inboundTopic:    inboundTopic,
		deadLetterTopic: deadLetterTopic,
	}
}

// Publish 实现 IngestPublisher
func (p *BrokerPublisher) Publish(payload []byte) error {
	return p.broker.Produce(BrokerMessage{
		Topic: p.inboundTopic,
		Key:   messageIDFromPayload(payload),
		Value: payload,
	})
}

// PublishDeadLetter 实现 DeadLetterPublisher
func (p *BrokerPublisher) PublishDeadLetter(payload []byte, category string) error {
	return p.broker.Produce(BrokerMessage{
		Topic: p.deadLetterTopic,
		Key:   category,
		Value: payload,
	})
}

// WorkerPool 一组无状态 worker，各自从共享队列拉取消息并把
// 工作单元跑到终态。worker 之间不共享任何内存状态，正确性完全
// 依赖持久化适配器的条件写。
type WorkerPool struct {
	broker     MessageBroker
	controller *RetryController
	topic      string
	workers    int

	wg sync.WaitGroup
}

// NewWorkerPool 创建 worker 池
func NewWorkerPool(broker MessageBroker, controller *RetryController, topic string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		broker:     broker,
		controller: controller,
		topic:      topic,
		workers:    workers,
	}
}

// Start 订阅队列并启动 worker
func (p *WorkerPool) Start() error {
	msgs, err := p.broker.Consume(p.topic)
	if err != nil {
		return err
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i, msgs)
	}

	logger.Printf("[WorkerPool] Started %d workers on topic %s", p.workers, p.topic)
	return nil
}

func (p *WorkerPool) run(id int, msgs <-chan BrokerMessage) {
	defer p.wg.Done()

	ctx := context.Background()
	for msg := range msgs {
		outcome := p.controller.Process(ctx, msg.Value)
		if outcome.Err != nil {
			logger.Warnf("[Worker %d] Message %s terminal: %v", id, msg.Key, outcome.Err)
		}
	}
}

// Stop 等待 Broker 关闭队列通道、已缓冲的消息全部跑到终态后返回。
// 不取消上下文：在途的工作单元要完整执行，不能中断成死信。
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	logger.Println("[WorkerPool] All workers stopped")
}
