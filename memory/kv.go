package memory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "SEMPLAN_MEMORY"

// KVStore keeps entries in a NATS JetStream key/value bucket. Composite keys
// contain characters KV keys do not allow, so they are stored base64 encoded.
type KVStore struct {
	kv    jetstream.KeyValue
	match Match
	conn  *nats.Conn
}

// NewKVStore binds to bucket, creating it when missing.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string, opts ...Option) (*KVStore, error) {
	o := collect(opts)
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("open memory bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv, match: o.match}, nil
}

// ConnectKV dials url and binds to bucket. Close releases the connection.
func ConnectKV(ctx context.Context, url, bucket string, opts ...Option) (*KVStore, error) {
	nc, err := nats.Connect(url, nats.Name("semplan-memory"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	s, err := NewKVStore(ctx, js, bucket, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.conn = nc
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Semplan %s storage", strings.ToLower(name)),
		History:     5,
	})
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(s string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Remember implements Store.
func (s *KVStore) Remember(ctx context.Context, e Entry) error {
	if _, err := s.kv.Put(ctx, encodeKey(e.Key()), []byte(e.Value)); err != nil {
		return fmt.Errorf("remember %s: %w", e.Key(), err)
	}
	return nil
}

// Recollect implements Store. Keys are filtered locally before any value is
// fetched.
func (s *KVStore) Recollect(ctx context.Context, q Query) (string, bool, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("list memory keys: %w", err)
	}

	encoded := make(map[string]string, len(keys))
	candidates := make([]candidate, 0, len(keys))
	for _, k := range keys {
		key, ok := decodeKey(k)
		if !ok {
			continue
		}
		encoded[key] = k
		candidates = append(candidates, candidate{key: key})
	}

	best, ok := selectBest(s.match, q, candidates)
	if !ok {
		return "", false, nil
	}
	entry, err := s.kv.Get(ctx, encoded[best.key])
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", best.key, err)
	}
	return string(entry.Value()), true, nil
}

// Close implements Backend. It closes the connection only when the store
// opened it.
func (s *KVStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
