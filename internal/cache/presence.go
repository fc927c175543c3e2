// Package cache mirrors live presence into Redis so the rest of the
// platform (profile pages, wishlist views) can answer "is this user online"
// without talking to the chat process. The mirror is observability only:
// message routing always uses the in-process registry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Keys used:
//   <prefix>:conn:<userID>     set of live connection ids
//   <prefix>:presence:<userID> json {status,last_seen}

// PresenceMirror writes presence transitions to Redis, best-effort. A nil
// *PresenceMirror is valid and does nothing, so callers don't need to guard
// for deployments without Redis.
type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewPresenceMirror wraps a Redis client. ttl bounds how stale a crashed
// instance's entries can get.
func NewPresenceMirror(client *redis.Client, prefix string, ttl time.Duration, log *zap.SugaredLogger) *PresenceMirror {
	return &PresenceMirror{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (m *PresenceMirror) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", m.prefix, userID)
}

func (m *PresenceMirror) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

// ConnectionOpened records a new live connection and marks the user online.
func (m *PresenceMirror) ConnectionOpened(ctx context.Context, userID string, connID int64) {
	if m == nil {
		return
	}
	if err := m.client.SAdd(ctx, m.connKey(userID), strconv.FormatInt(connID, 10)).Err(); err != nil {
		m.log.Warnw("presence mirror add failed", "user", userID, "err", err)
		return
	}
	_ = m.client.Expire(ctx, m.connKey(userID), m.ttl).Err()
	m.setStatus(ctx, userID, "online")
}

// ConnectionClosed removes the connection; offline marks the user offline
// (their last connection went away).
func (m *PresenceMirror) ConnectionClosed(ctx context.Context, userID string, connID int64, offline bool) {
	if m == nil {
		return
	}
	if err := m.client.SRem(ctx, m.connKey(userID), strconv.FormatInt(connID, 10)).Err(); err != nil {
		m.log.Warnw("presence mirror remove failed", "user", userID, "err", err)
	}
	if offline {
		m.setStatus(ctx, userID, "offline")
	}
}

func (m *PresenceMirror) setStatus(ctx context.Context, userID, status string) {
	payload, _ := json.Marshal(map[string]any{
		"status":    status,
		"last_seen": time.Now().Unix(),
	})
	if err := m.client.Set(ctx, m.presenceKey(userID), payload, m.ttl).Err(); err != nil {
		m.log.Warnw("presence mirror status failed", "user", userID, "status", status, "err", err)
	}
}
