package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"league-sync-service/config"
	"league-sync-service/logger"
)

// ReconnectConfig 重连配置
type ReconnectConfig struct {
	MaxRetries    int           // 最大重试次数 (0 = 无限重试)
	InitialDelay  time.Duration // 初始延迟
	MaxDelay      time.Duration // 最大延迟
	BackoffFactor float64       // 退避因子
}

// DefaultReconnectConfig 默认重连配置
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxRetries:    0,
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// AMQPConnector 入站队列消费者。手动 ack：一条消息的工作单元
// 跑到终态（含冲突、死信）之后才确认，中途崩溃由队列重投。
type AMQPConnector struct {
	config     *config.Config
	controller *RetryController

	conn       *amqp.Connection
	channel    *amqp.Channel
	pubChannel *amqp.Channel
	pubMu      sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAMQPConnector 创建 AMQP 连接器
func NewAMQPConnector(cfg *config.Config, controller *RetryController) *AMQPConnector {
	return &AMQPConnector{
		config:     cfg,
		controller: controller,
		done:       make(chan struct{}),
	}
}

// Start 连接并开始消费，支持自动重连
func (c *AMQPConnector) Start() error {
	msgs, err := c.connectAndConsume()
	if err != nil {
		return fmt.Errorf("initial connection failed: %w", err)
	}

	c.startWorkers(msgs)
	go c.monitorConnection(DefaultReconnectConfig())

	return nil
}

// connectAndConsume 连接、声明队列并开始消费
func (c *AMQPConnector) connectAndConsume() (<-chan amqp.Delivery, error) {
	logger.Printf("[AMQP] Connecting to %s...", c.config.AMQPURL)

	conn, err := amqp.Dial(c.config.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	c.channel = channel

	// 发布使用独立通道（channel 不支持并发发布）
	pubChannel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create publish channel: %w", err)
	}
	c.pubChannel = pubChannel

	// 预取量与 worker 数对齐
	if err := channel.Qos(c.config.WorkerCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	// 入站队列与死信队列都声明为持久化
	for _, queueName := range []string{c.config.InboundQueue, c.config.DeadLetterQueue} {
		if _, err := channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
	}

	logger.Printf("[AMQP] Queues declared: %s, %s", c.config.InboundQueue, c.config.DeadLetterQueue)

	msgs, err := channel.Consume(
		c.config.InboundQueue,
		"",    // consumer
		false, // auto-ack（终态后手动确认）
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	logger.Println("[AMQP] ✅ Started consuming messages")
	return msgs, nil
}

// startWorkers 启动 worker 处理投递
func (c *AMQPConnector) startWorkers(msgs <-chan amqp.Delivery) {
	for i := 0; i < c.config.WorkerCount; i++ {
		c.wg.Add(1)
		go c.handleMessages(i, msgs)
	}
	logger.Printf("[AMQP] Started %d workers", c.config.WorkerCount)
}

func (c *AMQPConnector) handleMessages(id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	ctx := context.Background()
	for msg := range msgs {
		outcome := c.controller.Process(ctx, msg.Body)
		if outcome.Err != nil {
			logger.Warnf("[AMQP worker %d] Message terminal: %v", id, outcome.Err)
		}

		// 冲突与死信也是终态，照常确认；重投只发生在进程崩溃时
		if err := msg.Ack(false); err != nil {
			logger.Errorf("[AMQP worker %d] Failed to ack: %v", id, err)
		}
	}
}

// Publish 发布一条入站消息（web 层的人工录入入口使用）
func (c *AMQPConnector) Publish(payload []byte) error {
	return c.publish(c.config.InboundQueue, payload, nil)
}

// PublishDeadLetter 实现 DeadLetterPublisher
func (c *AMQPConnector) PublishDeadLetter(payload []byte, category string) error {
	return c.publish(c.config.DeadLetterQueue, payload, amqp.Table{"category": category})
}

func (c *AMQPConnector) publish(queue string, payload []byte, headers amqp.Table) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pubChannel == nil {
		return fmt.Errorf("not connected")
	}

	return c.pubChannel.Publish(
		"",    // exchange（默认直连队列）
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
			Headers:      headers,
		},
	)
}

// monitorConnection 监控连接状态并自动重连
func (c *AMQPConnector) monitorConnection(config *ReconnectConfig) {
	retryCount := 0
	currentDelay := config.InitialDelay

	for {
		select {
		case <-c.done:
			return
		case closeErr := <-c.conn.NotifyClose(make(chan *amqp.Error)):
			if closeErr == nil {
				logger.Println("[AMQP] Connection closed normally")
				return
			}

			logger.Errorf("[AMQP] ⚠️  Connection lost: %v", closeErr)

			for {
				if config.MaxRetries > 0 && retryCount >= config.MaxRetries {
					logger.Errorf("[AMQP] ❌ Max retries (%d) reached, giving up", config.MaxRetries)
					return
				}

				retryCount++
				logger.Printf("[AMQP] 🔄 Reconnecting in %v (attempt %d)...", currentDelay, retryCount)

				select {
				case <-c.done:
					return
				case <-time.After(currentDelay):
				}

				msgs, err := c.reconnect()
				if err != nil {
					logger.Errorf("[AMQP] ❌ Reconnect failed: %v", err)

					currentDelay = time.Duration(float64(currentDelay) * config.BackoffFactor)
					if currentDelay > config.MaxDelay {
						currentDelay = config.MaxDelay
					}
					continue
				}

				logger.Println("[AMQP] ✅ Reconnected successfully")
				c.startWorkers(msgs)

				retryCount = 0
				currentDelay = config.InitialDelay
				break
			}
		}
	}
}

// reconnect 清理旧连接后重新连接
func (c *AMQPConnector) reconnect() (<-chan amqp.Delivery, error) {
	c.pubMu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.pubChannel != nil {
		c.pubChannel.Close()
		c.pubChannel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.pubMu.Unlock()

	return c.connectAndConsume()
}

// Stop 停止消费并等待在途消息处理完成
func (c *AMQPConnector) Stop() {
	logger.Println("[AMQP] Stopping connector...")
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.wg.Wait()
	logger.Println("[AMQP] Connector stopped")
}
