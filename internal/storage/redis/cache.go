package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
)

// Cache 基于 Redis 的读缓存与新邮件广播。
// 缓存条目是落库行的快照，expires_at 原样入缓存，
// 存活性由读取方依据行内 expires_at 复查，缓存本身不做过期判定。
type Cache struct {
	client *Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(cfg *config.RedisConfig) (*Cache, error) {
	client, err := New(cfg)
	if err != nil {
		return nil, err
	}

	return &Cache{
		client: client,
		ctx:    context.Background(),
	}, nil
}

// ========== 邮箱缓存 ==========

// CacheMailbox 按地址缓存邮箱信息。
// JSON 序列化会丢掉带 json:"-" 的 owner_ip，审计场景读数据库。
func (c *Cache) CacheMailbox(mailbox *domain.Mailbox, ttl time.Duration) error {
	key := fmt.Sprintf("mailbox:addr:%s", mailbox.Address)
	data, err := json.Marshal(mailbox)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedMailbox 获取缓存的邮箱快照
func (c *Cache) GetCachedMailbox(address string) (*domain.Mailbox, error) {
	key := fmt.Sprintf("mailbox:addr:%s", address)
	data, err := c.client.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("mailbox not found in cache")
		}
		return nil, err
	}

	var mailbox domain.Mailbox
	if err := json.Unmarshal([]byte(data), &mailbox); err != nil {
		return nil, err
	}

	return &mailbox, nil
}

// DeleteCachedMailbox 删除缓存的邮箱快照
func (c *Cache) DeleteCachedMailbox(address string) error {
	key := fmt.Sprintf("mailbox:addr:%s", address)
	return c.client.rdb.Del(c.ctx, key).Err()
}

// ========== 邮件缓存 ==========

// CacheMessage 缓存单封邮件。
// 附件内容带 json:"-"，缓存里只有元数据。
func (c *Cache) CacheMessage(message *domain.Message, ttl time.Duration) error {
	key := fmt.Sprintf("message:%s:%s", message.MailboxID, message.ID)
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedMessage 获取缓存的邮件
func (c *Cache) GetCachedMessage(mailboxID, messageID string) (*domain.Message, error) {
	key := fmt.Sprintf("message:%s:%s", mailboxID, messageID)
	data, err := c.client.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("message not found in cache")
		}
		return nil, err
	}

	var message domain.Message
	if err := json.Unmarshal([]byte(data), &message); err != nil {
		return nil, err
	}

	return &message, nil
}

// DeleteCachedMessage 删除缓存的邮件
func (c *Cache) DeleteCachedMessage(mailboxID, messageID string) error {
	key := fmt.Sprintf("message:%s:%s", mailboxID, messageID)
	return c.client.rdb.Del(c.ctx, key).Err()
}

// CacheMessageList 缓存邮箱的邮件列表
func (c *Cache) CacheMessageList(mailboxID string, messages []domain.Message, ttl time.Duration) error {
	key := fmt.Sprintf("messages:%s", mailboxID)
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedMessageList 获取缓存的邮件列表
func (c *Cache) GetCachedMessageList(mailboxID string) ([]domain.Message, error) {
	key := fmt.Sprintf("messages:%s", mailboxID)
	data, err := c.client.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("message list not found in cache")
		}
		return nil, err
	}

	var messages []domain.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// DeleteCachedMessageList 删除缓存的邮件列表
func (c *Cache) DeleteCachedMessageList(mailboxID string) error {
	key := fmt.Sprintf("messages:%s", mailboxID)
	return c.client.rdb.Del(c.ctx, key).Err()
}

// ========== 发布订阅 ==========

// PublishNewMail 发布新邮件通知，频道后缀是邮箱地址
func (c *Cache) PublishNewMail(address string, message *domain.Message) error {
	channel := fmt.Sprintf("new_mail:%s", address)
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.rdb.Publish(c.ctx, channel, data).Err()
}

// SubscribeAllMail 订阅全部新邮件通知。
// 多实例部署时每个实例桥接到自己的 WebSocket hub。
func (c *Cache) SubscribeAllMail() *goredis.PubSub {
	return c.client.rdb.PSubscribe(c.ctx, "new_mail:*")
}

// ========== 工具方法 ==========

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
