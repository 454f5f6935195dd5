package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/pkg/errors"
)

// Client 是对 go-redis 的薄封装，屏蔽单机/集群差异
type Client struct {
	rdb goredis.UniversalClient
}

// NewClient 根据逗号分隔的地址列表创建客户端，单地址时自动退化为单机模式
func NewClient(addrs string) (*Client, error) {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: strings.Split(addrs, ","),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return &Client{rdb: rdb}, nil
}

// GetClient 暴露底层客户端，供需要 pipeline 等高级操作的业务方使用
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// GetJSON 读取并反序列化缓存值；key 不存在时返回 (false, nil)
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "redis get %s", key)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errors.Wrapf(err, "unmarshal cached value for %s", key)
	}
	return true, nil
}

// SetJSON 序列化并写入缓存
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal value for %s", key)
	}
	return errors.Wrapf(c.rdb.Set(ctx, key, raw, ttl).Err(), "redis set %s", key)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
