// Package objectstore persists the record store as one JSON object per
// resource bucket on a blob.Store (filesystem, memory or S3).
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"meshcore/internal/blob"
	"meshcore/internal/infra/store/memory"
	"meshcore/internal/store/core"
	"meshcore/pkg/resource"
)

const defaultPrefix = "state/"

// Store wraps the memory store and writes changed buckets to object storage.
type Store struct {
	*memory.Store
	objects blob.Store
	prefix  string

	mu      sync.Mutex
	written map[string][]byte
}

var _ core.Store = (*Store)(nil)

// NewStore hydrates the in-memory state from every <prefix><bucket>.json object.
func NewStore(ctx context.Context, objects blob.Store, prefix string, opts ...memory.Option) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("objectstore: blob store required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	s := &Store{Store: memory.NewStore(opts...), objects: objects, prefix: prefix, written: map[string][]byte{}}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) key(bucket string) string { return s.prefix + bucket + ".json" }

func (s *Store) load(ctx context.Context) error {
	infos, err := s.objects.List(ctx, s.prefix)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	snapshot := core.Snapshot{}
	for _, info := range infos {
		bucket := strings.TrimSuffix(strings.TrimPrefix(info.Key, s.prefix), ".json")
		if bucket == "" || strings.Contains(bucket, "/") || !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		_, rc, err := s.objects.Get(ctx, info.Key)
		if err != nil {
			return fmt.Errorf("read %s: %w", info.Key, err)
		}
		payload, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", info.Key, err)
		}
		records, err := core.DecodeBucket(bucket, payload)
		if err != nil {
			return err
		}
		snapshot[bucket] = records
		s.written[bucket] = payload
	}
	s.ImportState(snapshot)
	return nil
}

// persist rewrites only the buckets whose encoding changed since the last write.
func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	for _, bucket := range snapshot.Buckets() {
		data, err := core.EncodeBucket(snapshot[bucket])
		if err != nil {
			return err
		}
		if bytes.Equal(s.written[bucket], data) {
			continue
		}
		_, err = s.objects.Put(ctx, s.key(bucket), bytes.NewReader(data), blob.PutOptions{
			ContentType: resource.MimeJSON,
			Metadata:    map[string]string{"bucket": bucket},
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", bucket, err)
		}
		s.written[bucket] = data
	}
	return nil
}

// RunInTransaction commits in memory, then writes changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(core.Transaction) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) Close() error { return nil }
