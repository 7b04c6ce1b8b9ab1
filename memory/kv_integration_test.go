//go:build integration

package memory

import (
	"context"
	"os"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestKVStore(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}

	ctx := context.Background()
	s, err := ConnectKV(ctx, url, "SEMPLAN_MEMORY_TEST")
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	t.Cleanup(func() {
		s.kv.PurgeDeletes(ctx)
		for _, k := range []string{"fruit|apple|fruit_0", "fruit|pear|fruit_1", "color|red"} {
			s.kv.Purge(ctx, encodeKey(k))
		}
		s.Close()
	})

	storeContract(t, s)

	empty, err := ConnectKV(ctx, url, "SEMPLAN_MEMORY_EMPTY")
	require.NoError(t, err)
	defer empty.Close()
	_, ok, err := empty.Recollect(ctx, Query{Concepts: []string{"c"}, Name: "n"})
	require.NoError(t, err)
	require.False(t, ok)
}
