package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"GoCmdLogServer/internal/iolog"
)

// Config 会话目录库连接配置
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN 拼接连接串
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// 会话状态
const (
	StateNew      = "new"
	StateResumed  = "resumed"
	StateFinished = "finished"
)

// schema 首次连接时建表；目录库只是旁路索引，不承载持久记录本身
const schema = `
CREATE TABLE IF NOT EXISTS iolog_sessions (
	log_id      text PRIMARY KEY,
	submit_user text NOT NULL,
	submit_host text NOT NULL,
	run_user    text NOT NULL,
	command     text NOT NULL,
	start_time  timestamptz NOT NULL,
	state       text NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now()
)`

// SessionRow 目录库中的一行会话记录
type SessionRow struct {
	LogID      string    `json:"log_id"`
	SubmitUser string    `json:"submit_user"`
	SubmitHost string    `json:"submit_host"`
	RunUser    string    `json:"run_user"`
	Command    string    `json:"command"`
	StartTime  time.Time `json:"start_time"`
	State      string    `json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Catalog 可选的PostgreSQL会话目录
type Catalog struct {
	pool *pgxpool.Pool
}

// Connect 建立连接池并确保表存在
func Connect(ctx context.Context, cfg *Config) (*Catalog, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse catalog config: %w", err)
	}

	// 连接池参数
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create catalog pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure catalog schema: %w", err)
	}

	return &Catalog{pool: pool}, nil
}

// Close 关闭连接池
func (c *Catalog) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

// RecordStart 登记新建会话
func (c *Catalog) RecordStart(ctx context.Context, logID string, d *iolog.Details) error {
	runUser := d.RunUser
	if runUser == "" {
		runUser = iolog.RunUserDefault
	}
	command := d.Command
	if len(d.Argv) > 1 {
		command += " " + strings.Join(d.Argv[1:], " ")
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO iolog_sessions (log_id, submit_user, submit_host, run_user, command, start_time, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		logID, d.SubmitUser, d.SubmitHost, runUser, command,
		time.Unix(d.StartTime, 0).UTC(), StateNew)
	return err
}

// setState 更新会话状态
func (c *Catalog) setState(ctx context.Context, logID, state string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE iolog_sessions SET state = $2, updated_at = now() WHERE log_id = $1`,
		logID, state)
	return err
}

// MarkResumed 标记会话已续录
func (c *Catalog) MarkResumed(ctx context.Context, logID string) error {
	return c.setState(ctx, logID, StateResumed)
}

// MarkFinished 标记会话已结束
func (c *Catalog) MarkFinished(ctx context.Context, logID string) error {
	return c.setState(ctx, logID, StateFinished)
}

// ListRecent 按开始时间倒序列出最近的会话
func (c *Catalog) ListRecent(ctx context.Context, limit int) ([]SessionRow, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT log_id, submit_user, submit_host, run_user, command, start_time, state, updated_at
		FROM iolog_sessions ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.LogID, &r.SubmitUser, &r.SubmitHost, &r.RunUser,
			&r.Command, &r.StartTime, &r.State, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
