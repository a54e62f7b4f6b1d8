package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/deploywatch/internal/domain"
)

// Redis publishes notifications and state snapshots to a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(addr, password string, db int, channel string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisWithClient(client, channel, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = "deploywatch:events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, timeout: 500 * time.Millisecond, logger: logger.With("component", "notify_redis")}
}

type envelope struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	State        *stateEvent   `json:"state,omitempty"`
}

type stateEvent struct {
	HookID       string    `json:"hook_id"`
	Status       string    `json:"status"`
	Label        string    `json:"label"`
	ErrorMessage string    `json:"error_message,omitempty"`
	IsPolling    bool      `json:"is_polling"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Notify publishes n.
func (r *Redis) Notify(ctx context.Context, n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	return r.publish(ctx, envelope{Type: "notification", Notification: &n})
}

// PublishState publishes a state snapshot for hookID.
func (r *Redis) PublishState(ctx context.Context, hookID string, st domain.State) error {
	return r.publish(ctx, envelope{Type: "state", State: &stateEvent{
		HookID:       hookID,
		Status:       string(st.Status),
		Label:        st.Label(),
		ErrorMessage: st.ErrorMessage,
		IsPolling:    st.IsPolling,
		UpdatedAt:    st.UpdatedAt,
	}})
}

func (r *Redis) publish(ctx context.Context, msg envelope) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("redis publish failed", "channel", r.channel, "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
