package redisstate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	redisstate "github.com/ayzthp/ColabCode/internal/infra/state/redis"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// newTestStore 启动一个内存 Redis 并返回 store
func newTestStore(t *testing.T) (*redisstate.RedisRoomStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisRoomStore(client, "test:"), mr
}

func newRoom(id string) *domain.Room {
	host := domain.Identity{ID: "host-1", Name: "Host"}
	return domain.NewRoom(id, host, "Room", "", true, 0, time.Now())
}

func TestRedisRoomStore_CreateAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	room := newRoom("r1")
	require.NoError(t, store.Create(ctx, room))
	assert.Equal(t, uint64(1), room.Revision, "新建房间的 revision 应为 1")
	assert.True(t, mr.Exists("test:room:r1:doc"), "文档应写入带前缀的 key")

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "host-1", got.HostID)
	assert.Equal(t, "host-1", got.CurrentEditorID)
	assert.Contains(t, got.Participants, "host-1")

	// 重复创建
	err = store.Create(ctx, newRoom("r1"))
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestRedisRoomStore_Mutate_IncrementsRevisionAndPublishes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Create(ctx, newRoom("r1")))

	events, err := store.Subscribe(ctx, "r1")
	require.NoError(t, err)

	updated, err := store.Mutate(ctx, "r1", func(room *domain.Room) error {
		room.CurrentCode = "print(1)"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Revision)
	assert.Equal(t, "print(1)", updated.CurrentCode)

	select {
	case ev := <-events:
		assert.Equal(t, repository.EventSnapshot, ev.Kind)
		require.NotNil(t, ev.Room)
		assert.Equal(t, uint64(2), ev.Room.Revision)
		assert.Equal(t, "print(1)", ev.Room.CurrentCode)
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到 snapshot 事件")
	}
}

func TestRedisRoomStore_Mutate_ErrorDoesNotCommit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRoom("r1")))

	boom := assert.AnError
	_, err := store.Mutate(ctx, "r1", func(room *domain.Room) error {
		room.CurrentCode = "should not persist"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCode, got.CurrentCode)
	assert.Equal(t, uint64(1), got.Revision)

	// ErrNoChange 不提交也不报错
	same, err := store.Mutate(ctx, "r1", func(room *domain.Room) error {
		return repository.ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), same.Revision)

	_, err = store.Mutate(ctx, "missing", func(room *domain.Room) error { return nil })
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestRedisRoomStore_Mutate_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRoom("r1")))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "r1", func(room *domain.Room) error {
				room.CodeVersion++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(writers), got.CodeVersion, "每次提交都应基于最新文档")
	assert.Equal(t, uint64(writers+1), got.Revision)
}

func TestRedisRoomStore_AppendLineAndLines(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Create(ctx, newRoom("r1")))

	events, err := store.Subscribe(ctx, "r1")
	require.NoError(t, err)

	line := domain.DrawingLine{Points: []domain.DrawingPoint{{X: 1, Y: 2}}, Color: "#ff0000", StrokeWidth: 3}
	idx, err := store.AppendLine(ctx, "r1", line)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = store.AppendLine(ctx, "r1", line)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	for want := 0; want < 2; want++ {
		select {
		case ev := <-events:
			assert.Equal(t, repository.EventLine, ev.Kind)
			assert.Equal(t, want, ev.LineIndex)
			require.NotNil(t, ev.Line)
			assert.Equal(t, "#ff0000", ev.Line.Color)
		case <-time.After(2 * time.Second):
			t.Fatal("没有收到 line 事件")
		}
	}

	lines, err := store.Lines(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	_, err = store.AppendLine(ctx, "missing", line)
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestRedisRoomStore_RestoreLines_OnlyWhenEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRoom("r1")))

	restored := []domain.DrawingLine{
		{Points: []domain.DrawingPoint{{X: 0, Y: 0}}},
		{Points: []domain.DrawingPoint{{X: 5, Y: 5}}},
	}
	require.NoError(t, store.RestoreLines(ctx, "r1", restored))
	require.NoError(t, store.RestoreLines(ctx, "r1", restored[:1]))

	lines, err := store.Lines(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, lines, 2, "日志非空时不应再次写入")
}

func TestRedisRoomStore_CheckRateLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := store.CheckRateLimit(ctx, "exec:u1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded)
	}
	exceeded, err := store.CheckRateLimit(ctx, "exec:u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded)
}

func TestRedisRoomStore_CheckRateLimit_WindowResetsUnderSustainedLoad(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// 每 20 秒一次请求，持续超过一个窗口；计数不能因为每次请求都续期而一直累加
	for i := 0; i < 3; i++ {
		exceeded, err := store.CheckRateLimit(ctx, "exec:u1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded)
		mr.FastForward(20 * time.Second)
	}
	assert.False(t, mr.Exists("test:exec:u1"), "window must expire 60s after the first request")

	exceeded, err := store.CheckRateLimit(ctx, "exec:u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, exceeded)
	ttl := mr.TTL("test:exec:u1")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(30 * time.Second)
	_, err = store.CheckRateLimit(ctx, "exec:u1", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("test:exec:u1"), "later requests keep the original expiry")
}

func TestRedisRoomStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "r1")
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}
