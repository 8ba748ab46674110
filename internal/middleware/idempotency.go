package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	idempotencyPrefix = "idempotency:"

	// replyTTL is how long a finished response can be replayed.
	replyTTL = 24 * time.Hour
	// reservationTTL frees a key whose request never finished.
	reservationTTL = time.Minute
)

// storedReply is what Redis holds for a key. Status 0 marks a request that
// is still running.
type storedReply struct {
	Status      int    `json:"status"`
	Fingerprint string `json:"fingerprint"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r *storedReply) pending() bool { return r.Status == 0 }

// replayStore keeps one reply per method, route and client key.
type replayStore struct {
	client redis.UniversalClient
}

func (s replayStore) key(c *gin.Context, clientKey string) string {
	return idempotencyPrefix + c.Request.Method + ":" + c.Request.URL.Path + ":" + clientKey
}

// reserve claims key for a new request. When the key is taken it returns
// the reply already stored under it.
func (s replayStore) reserve(ctx context.Context, key, fingerprint string) (*storedReply, error) {
	marker, err := json.Marshal(storedReply{Fingerprint: fingerprint})
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, key, marker, reservationTTL).Result()
	if err != nil || ok {
		return nil, err
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; treat as a fresh request.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var existing storedReply
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s replayStore) save(ctx context.Context, key string, reply storedReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, replyTTL).Err()
}

func (s replayStore) release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// bodyRecorder tees the response body so it can be stored after the handler
// returns.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency makes mutating requests that carry an Idempotency-Key safe to
// retry. The first request reserves the key; a retry with the same body gets
// the stored response back, a retry while the first is still running gets
// 409, and reusing the key with a different body gets 422. 5xx responses
// free the key. Redis failures fall through to normal processing.
func Idempotency(client redis.UniversalClient, logger logrus.FieldLogger) gin.HandlerFunc {
	store := replayStore{client: client}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		clientKey := c.GetHeader(idempotencyHeader)
		if clientKey == "" {
			c.Next()
			return
		}

		log := logger.WithFields(logrus.Fields{
			"idempotency_key": clientKey,
			"path":            c.Request.URL.Path,
		})

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		fingerprint := hex.EncodeToString(sum[:])

		ctx := c.Request.Context()
		key := store.key(c, clientKey)

		existing, err := store.reserve(ctx, key, fingerprint)
		if err != nil {
			log.WithError(err).Warn("idempotency reservation failed")
			c.Next()
			return
		}

		if existing != nil {
			switch {
			case existing.Fingerprint != fingerprint:
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
					"status": "error",
					"error":  "Idempotency-Key was already used with a different request",
				})
			case existing.pending():
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"status": "error",
					"error":  "a request with this Idempotency-Key is still in progress",
				})
			default:
				c.Header(replayedHeader, "true")
				contentType := existing.ContentType
				if contentType == "" {
					contentType = "application/json"
				}
				c.Data(existing.Status, contentType, existing.Body)
				c.Abort()
			}
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec

		c.Next()

		bg := context.WithoutCancel(ctx)
		status := rec.Status()
		if status >= http.StatusInternalServerError {
			if err := store.release(bg, key); err != nil {
				log.WithError(err).Warn("idempotency release failed")
			}
			return
		}

		reply := storedReply{
			Status:      status,
			Fingerprint: fingerprint,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		}
		if err := store.save(bg, key, reply); err != nil {
			log.WithError(err).Warn("idempotency store failed")
		}
	}
}
