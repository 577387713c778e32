// Package session stores hub login sessions in Redis.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/static"
)

// ErrNotFound is returned when no live session has the requested id.
var ErrNotFound = errors.New("session not found")

// Session is a logged in user.
type Session struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}

// Store reads and writes sessions in Redis. Keys expire after the TTL.
type Store struct {
	pool *redis.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewStore returns a Store using pool. A zero ttl uses static.SessionTTL.
func NewStore(pool *redis.Pool, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = static.SessionTTL
	}
	return &Store{pool: pool, ttl: ttl, now: time.Now}
}

// NewPool creates a redigo connection pool for the Redis server at address.
func NewPool(address string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     static.RedisMaxIdle,
		IdleTimeout: static.RedisIdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", address)
		},
	}
}

// TTL returns how long sessions live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create starts a new session for username.
func (s *Store) Create(username string) (*Session, error) {
	t := time.Now()
	conn := s.pool.Get()
	defer conn.Close()

	sess := &Session{
		ID:       uuid.NewString(),
		Username: username,
		Created:  s.now().UTC(),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("create", "marshal error").Observe(time.Since(t).Seconds())
		return nil, err
	}

	_, err = conn.Do("SET", key(sess.ID), b, "EX", int64(s.ttl/time.Second))
	if err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("create", "SET error").Observe(time.Since(t).Seconds())
		return nil, err
	}

	metrics.SessionStoreRequestDuration.WithLabelValues("create", "OK").Observe(time.Since(t).Seconds())
	return sess, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, error) {
	t := time.Now()
	conn := s.pool.Get()
	defer conn.Close()

	b, err := redis.Bytes(conn.Do("GET", key(id)))
	if errors.Is(err, redis.ErrNil) {
		metrics.SessionStoreRequestDuration.WithLabelValues("get", "not found").Observe(time.Since(t).Seconds())
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("get", "GET error").Observe(time.Since(t).Seconds())
		return nil, err
	}

	sess := &Session{}
	if err := json.Unmarshal(b, sess); err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("get", "unmarshal error").Observe(time.Since(t).Seconds())
		return nil, err
	}

	metrics.SessionStoreRequestDuration.WithLabelValues("get", "OK").Observe(time.Since(t).Seconds())
	return sess, nil
}

// Delete removes the session with the given id. Deleting a missing session
// is not an error.
func (s *Store) Delete(id string) error {
	t := time.Now()
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", key(id))
	if err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("delete", "DEL error").Observe(time.Since(t).Seconds())
		return err
	}

	metrics.SessionStoreRequestDuration.WithLabelValues("delete", "OK").Observe(time.Since(t).Seconds())
	return nil
}

// Ping checks that the Redis server is reachable.
func (s *Store) Ping() error {
	t := time.Now()
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		metrics.SessionStoreRequestDuration.WithLabelValues("ping", "PING error").Observe(time.Since(t).Seconds())
		return err
	}
	metrics.SessionStoreRequestDuration.WithLabelValues("ping", "OK").Observe(time.Since(t).Seconds())
	return nil
}

func key(id string) string {
	return static.SessionKeyPrefix + id
}
