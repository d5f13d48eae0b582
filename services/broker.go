package services

// BrokerMessage 在 Broker 中传输的消息结构
type BrokerMessage struct {
	Topic string
	Key   string // MessageID 或其他唯一标识
	Value []byte // 原始 JSON 消息体
}

// MessageBroker 消息队列的抽象接口。AMQP 与内存实现各一份，
// 内存实现用于本地开发与测试。
type MessageBroker interface {
	// Produce 发送消息到指定的 Topic
	Produce(msg BrokerMessage) error
	// Consume 订阅指定的 Topic，返回一个消息通道
	Consume(topic string) (<-chan BrokerMessage, error)
	// Close 关闭 Broker 连接
	Close() error
}
