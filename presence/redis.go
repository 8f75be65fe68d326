package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/registry"

	"github.com/redis/go-redis/v9"
)

const (
	featureName = "Presence"
	keyPrefix   = "ocpp:presence:"
)

// Source provides the current view of a station connection
type Source interface {
	Summary(identity string) (registry.Summary, bool)
}

// Store mirrors connection summaries to redis, so other processes can see which
// stations are attached to this node
type Store struct {
	client *redis.Client
	source Source
	ttl    time.Duration
	logger internal.LogHandler
}

func NewStore(address, password string, db int, ttl time.Duration, source Source, logger internal.LogHandler) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", address, err)
	}

	return &Store{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func Key(identity string) string {
	return keyPrefix + identity
}

// OnEvent refreshes the stored summary of the station the event belongs to
func (s *Store) OnEvent(event events.Event) {
	summary, ok := s.source.Summary(event.ChargePointId)
	if !ok {
		return
	}
	// a late disconnect of a superseded session must not overwrite the new one
	if event.SessionId != "" && event.SessionId != summary.SessionId {
		return
	}
	data, err := encode(summary)
	if err != nil {
		s.logger.Error("encode presence", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err = s.client.Set(ctx, Key(event.ChargePointId), data, s.ttl).Err(); err != nil {
		s.logger.Warn(fmt.Sprintf("%s: update %s: %v", featureName, event.ChargePointId, err))
	}
}

// Lookup returns the last stored summary of the station, nil if none is stored
func (s *Store) Lookup(ctx context.Context, identity string) (*registry.Summary, error) {
	data, err := s.client.Get(ctx, Key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func encode(summary registry.Summary) ([]byte, error) {
	return json.Marshal(summary)
}

func decode(data []byte) (*registry.Summary, error) {
	var summary registry.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
