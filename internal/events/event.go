// Package events publishes dashboard events (agent deployment, registration
// and deposits) to an external broker so other systems can follow on-chain
// activity without polling the daemon.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"x402-Dashboard/internal/config"
	"x402-Dashboard/pkg/logger"

	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

const (
	TypeAgentDeployed           Type = "agent.deployed"
	TypeAgentRegistered         Type = "agent.registered"
	TypeAgentRegistrationFailed Type = "agent.registration_failed"
	TypeDepositConfirmed        Type = "deposit.confirmed"
)

// Event 是投递到外部系统的消息体。
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Account      string    `json:"account"`
	AgentAddress string    `json:"agent_address,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent 创建带 ID 与时间戳的事件。
func NewEvent(typ Type, account string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Account:    account,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Open 根据配置创建事件发布器。
func Open(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return NopPublisher{}, nil
	case "memory":
		return NewMemoryPublisher(0), nil
	case "redis":
		return NewRedisPublisher(ctx, RedisConfig{URL: cfg.Redis.URL, Queue: cfg.Redis.Queue})
	case "rabbitmq":
		return NewRabbitMQPublisher(RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}

// Emit 投递事件，失败只记录日志。
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Named("events").Warn("事件投递失败", "type", event.Type, "id", event.ID, "error", err)
	}
}
