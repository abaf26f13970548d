package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// renewScript 锁是自己的才续期，GET + EXPIRE 放一个脚本里保证原子
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderLock 多实例部署时选一个节点干活（例如只让一个节点推回放 frame）
type LeaderLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	id  string // 当前节点的唯一ID（hostname + UUID）
}

func NewLeaderLock(rdb *redis.Client, key string, ttl time.Duration) *LeaderLock {
	host, _ := os.Hostname()
	return &LeaderLock{
		rdb: rdb,
		key: key,
		ttl: ttl,
		id:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

func (l *LeaderLock) ID() string { return l.id }

// TryAcquire 抢锁或给自己的锁续期；返回当前是否是 leader
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	// SETNX + 过期时间，leader 挂了后锁会自动释放
	ok, err := l.rdb.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.id, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release 只删自己的锁
func (l *LeaderLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.id).Err()
}
