package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailbin/backend/internal/config"
)

// Client 封装 PostgreSQL 连接池，负责探活与连接池统计。
// GORM 走自己的连接，这里的池只做健康检查和指标上报。
type Client struct {
	pool *pgxpool.Pool
}

// NewClient 创建 PostgreSQL 连接池客户端。
func NewClient(cfg *config.DatabaseConfig) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Ping 测试数据库连接。
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Stats 返回连接池统计信息。
func (c *Client) Stats() *pgxpool.Stat {
	return c.pool.Stat()
}

// Close 关闭连接池。
func (c *Client) Close() {
	c.pool.Close()
}
