package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "timesheet:session:"
	defaultSessionTTL = 24 * time.Hour
)

// RedisStore keeps session values server-side in Redis. The cookie only
// carries a signed random session id, so deleting the key invalidates the
// session everywhere.
type RedisStore struct {
	client  *redis.Client
	codecs  []securecookie.Codec
	encoder securecookie.GobEncoder
	Options *sessions.Options
}

func NewRedisStore(client *redis.Client, sessionKey string, secure bool, maxAge int) *RedisStore {
	hashKey := sha256.Sum256([]byte(sessionKey + "auth"))
	return &RedisStore{
		client:  client,
		codecs:  securecookie.CodecsFromPairs(hashKey[:]),
		Options: cookieOptions(secure, maxAge),
	}
}

// NewRedisClient parses a redis:// URL (plain host:port is accepted too) and
// checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.codecs...); err != nil {
		session.ID = ""
		return session, err
	}

	data, err := s.client.Get(r.Context(), redisKeyPrefix+session.ID).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired or logged out elsewhere: start over with a fresh id.
		session.ID = ""
		return session, nil
	}
	if err != nil {
		return session, fmt.Errorf("load session: %w", err)
	}
	if err := s.encoder.Deserialize(data, &session.Values); err != nil {
		return session, fmt.Errorf("decode session: %w", err)
	}
	session.IsNew = false
	return session, nil
}

// Regenerate drops the stored state of the current session id so the next
// Save issues a new id. Values already loaded into session are kept.
func (s *RedisStore) Regenerate(r *http.Request, session *sessions.Session) error {
	if session.ID != "" {
		if err := s.client.Del(r.Context(), redisKeyPrefix+session.ID).Err(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	session.ID = ""
	session.IsNew = true
	return nil
}

func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()

	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.client.Del(ctx, redisKeyPrefix+session.ID).Err(); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}

	data, err := s.encoder.Serialize(session.Values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if ttl == 0 {
		ttl = defaultSessionTTL
	}
	if err := s.client.Set(ctx, redisKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}
