package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// 乐观事务冲突时的最大重试次数
const maxMutateRetries = 16

// RedisRoomStore 是 RoomStore 接口的 Redis 实现。
// 房间文档以 JSON 存在 String 中，笔画日志存在 List 中，变更通过 Pub/Sub 通知。
type RedisRoomStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ repository.RoomStore = (*RedisRoomStore)(nil)

// NewRedisRoomStore 创建 RedisRoomStore 实例
func NewRedisRoomStore(client *redis.Client, keyPrefix string) *RedisRoomStore {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomStore")
	}
	if keyPrefix == "" {
		keyPrefix = "cc:" // 默认前缀 "cc:" (colab code)
	}
	return &RedisRoomStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (s *RedisRoomStore) roomDocKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:doc", s.keyPrefix, roomID)
}

func (s *RedisRoomStore) roomLinesKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:lines", s.keyPrefix, roomID)
}

func (s *RedisRoomStore) roomEventsChannel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", s.keyPrefix, roomID)
}

// unavailable 把底层 Redis 错误映射为 ErrStoreUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", repository.ErrStoreUnavailable, op, err)
}

func decodeRoom(raw []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room document: %w", err)
	}
	if room.Participants == nil {
		room.Participants = make(map[string]*domain.Participant)
	}
	return &room, nil
}

// Create 使用 SETNX 写入新房间文档
func (s *RedisRoomStore) Create(ctx context.Context, room *domain.Room) error {
	doc := room.Clone()
	if doc.Revision == 0 {
		doc.Revision = 1
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room %s: %w", room.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.roomDocKey(room.ID), payload, 0).Result()
	if err != nil {
		return unavailable("setnx", err)
	}
	if !ok {
		return repository.ErrDuplicateEntry
	}
	room.Revision = doc.Revision
	return nil
}

// Get 读取房间文档
func (s *RedisRoomStore) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	raw, err := s.client.Get(ctx, s.roomDocKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, unavailable("get", err)
	}
	return decodeRoom(raw)
}

// Mutate 在 WATCH/MULTI 事务中执行读-改-写，提交与发布在同一个 EXEC 内完成，
// 因此订阅者收到快照的顺序与提交顺序一致。
func (s *RedisRoomStore) Mutate(ctx context.Context, roomID string, fn repository.MutateFunc) (*domain.Room, error) {
	key := s.roomDocKey(roomID)
	channel := s.roomEventsChannel(roomID)

	var result *domain.Room
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrRoomNotFound
			}
			return unavailable("get", err)
		}
		current, err := decodeRoom(raw)
		if err != nil {
			return err
		}

		working := current.Clone()
		if err := fn(working); err != nil {
			if errors.Is(err, repository.ErrNoChange) {
				result = current
				return nil
			}
			return err
		}
		working.ID = current.ID
		working.Revision = current.Revision + 1

		payload, err := json.Marshal(working)
		if err != nil {
			return fmt.Errorf("redis: failed to marshal room %s: %w", roomID, err)
		}
		event, err := json.Marshal(repository.RoomEvent{Kind: repository.EventSnapshot, Room: working})
		if err != nil {
			return fmt.Errorf("redis: failed to marshal snapshot event for room %s: %w", roomID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.Publish(ctx, channel, event)
			return nil
		})
		if err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return err
			}
			return unavailable("exec", err)
		}
		result = working
		return nil
	}

	for attempt := 0; attempt < maxMutateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			logrus.WithField("room_id", roomID).Debugf("redis: mutate conflict, retrying (attempt %d)", attempt+1)
			continue
		}
		return nil, err
	}
	return nil, repository.ErrConflict
}

// AppendLine 追加笔画并发布 line 事件。
// RPUSH 的返回值决定了笔画在日志中的位置，订阅者依据位置检测遗漏。
func (s *RedisRoomStore) AppendLine(ctx context.Context, roomID string, line domain.DrawingLine) (int, error) {
	exists, err := s.client.Exists(ctx, s.roomDocKey(roomID)).Result()
	if err != nil {
		return 0, unavailable("exists", err)
	}
	if exists == 0 {
		return 0, repository.ErrRoomNotFound
	}

	payload, err := json.Marshal(line)
	if err != nil {
		return 0, fmt.Errorf("redis: failed to marshal drawing line: %w", err)
	}
	length, err := s.client.RPush(ctx, s.roomLinesKey(roomID), payload).Result()
	if err != nil {
		return 0, unavailable("rpush", err)
	}
	index := int(length) - 1

	event, err := json.Marshal(repository.RoomEvent{Kind: repository.EventLine, Line: &line, LineIndex: index})
	if err != nil {
		return index, fmt.Errorf("redis: failed to marshal line event: %w", err)
	}
	if err := s.client.Publish(ctx, s.roomEventsChannel(roomID), event).Err(); err != nil {
		// 笔画已经写入，订阅者会在下一次检测到缺口时重新拉取
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"index":   index,
		}).WithError(err).Warn("Redis publish of drawing line failed")
	}
	return index, nil
}

// RestoreLines 在日志为空时写入历史笔画
func (s *RedisRoomStore) RestoreLines(ctx context.Context, roomID string, lines []domain.DrawingLine) error {
	if len(lines) == 0 {
		return nil
	}
	key := s.roomLinesKey(roomID)
	values := make([]interface{}, 0, len(lines))
	for _, line := range lines {
		payload, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("redis: failed to marshal drawing line: %w", err)
		}
		values = append(values, payload)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return unavailable("llen", err)
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, values...)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// 其他实例已经写入了日志
			return nil
		}
		if errors.Is(err, repository.ErrStoreUnavailable) {
			return err
		}
		return unavailable("restore lines", err)
	}
	return nil
}

// Lines 返回房间的全部笔画
func (s *RedisRoomStore) Lines(ctx context.Context, roomID string) ([]domain.DrawingLine, error) {
	raws, err := s.client.LRange(ctx, s.roomLinesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("lrange", err)
	}
	lines := make([]domain.DrawingLine, 0, len(raws))
	for i, raw := range raws {
		var line domain.DrawingLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			// 保持位置不变，损坏的记录用空笔画占位
			logrus.Warnf("redis: failed to unmarshal drawing line %d for room %s: %v", i, roomID, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Subscribe 订阅房间事件频道
func (s *RedisRoomStore) Subscribe(ctx context.Context, roomID string) (<-chan repository.RoomEvent, error) {
	channel := s.roomEventsChannel(roomID)
	pubsub := s.client.Subscribe(ctx, channel)
	// 等待订阅确认，确保之后的发布不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

	out := make(chan repository.RoomEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event repository.RoomEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logrus.WithField("channel", channel).Errorf("redis: failed to unmarshal room event: %v", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 固定窗口：只有窗口内的第一次请求设置过期时间，持续的请求不会推迟窗口结束。
func (s *RedisRoomStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := s.keyPrefix + key
	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, unavailable("rate limit", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, unavailable("rate limit", err)
		}
	} else if ttl, err := s.client.TTL(ctx, fullKey).Result(); err == nil && ttl < 0 {
		// 第一次请求的 EXPIRE 失败过
		s.client.Expire(ctx, fullKey, window)
	}
	return count > int64(limit), nil
}
