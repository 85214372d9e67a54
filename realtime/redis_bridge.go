package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventsChannel - pub/sub канал событий лобби между инстансами.
const eventsChannel = "quickplay.lobby_events"

// RedisBridge разносит события лобби между инстансами сервиса через Redis
// pub/sub, чтобы websocket-клиенты видели события независимо от того, какой
// инстанс их породил. Без Redis хаб работает только локально; это допустимо,
// потому что канал best-effort.
type RedisBridge struct {
	rdb *redis.Client
	hub *Hub
}

func NewRedisBridge(redisURL string, hub *Hub) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBridge{rdb: rdb, hub: hub}, nil
}

// PublishLobbyEvent реализует services.EventPublisher: событие уходит в
// Redis, откуда каждый инстанс (включая этот) доставит его своим клиентам.
func (b *RedisBridge) PublishLobbyEvent(lobbyID int, eventType string, payload interface{}) {
	event := LobbyEvent{Type: eventType, LobbyID: lobbyID, Payload: payload}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to marshal lobby event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		// Потеря события некритична - реконсиляция подберёт.
		log.Printf("failed to publish lobby event to redis: %v", err)
	}
}

// Run подписывается на канал событий и перекладывает их в локальный хаб.
// Блокируется до отмены контекста.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event LobbyEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("failed to decode lobby event from redis: %v", err)
				continue
			}
			b.hub.broadcastToRoom(RoomID(event.LobbyID), event)
		}
	}
}

// Close освобождает клиент Redis.
func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}
