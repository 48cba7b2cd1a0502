package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

func sampleResult() diag.Result {
	return diag.NewResult([]diag.Diagnostic{
		diag.New(diag.RespHashMismatch, "execution_trace.calls[c1].response_hash", "Response hash mismatch for call c1").
			With("expected", "aa").With("computed", "bb"),
	})
}

func TestKey(t *testing.T) {
	base := KeyInput{
		Task:         "who leads apollo?",
		Identity:     certificate.IdentityContext{CtxHash: "ctx-1", Fields: map[string]any{"is_public": false}},
		Certificate:  map[string]any{"pc_version": "1.0.0", "task_text": "who leads apollo?"},
		PolicyDigest: "pd",
		OpsVersion:   "ops/v1",
	}
	k1, err := Key(base)
	require.NoError(t, err)
	assert.Len(t, k1, 64)

	reordered := base
	reordered.Certificate = map[string]any{"task_text": "who leads apollo?", "pc_version": "1.0.0"}
	k2, err := Key(reordered)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	for name, mutate := range map[string]func(*KeyInput){
		"task":    func(in *KeyInput) { in.Task = "other" },
		"ctx":     func(in *KeyInput) { in.Identity.Fields = map[string]any{"is_public": true} },
		"policy":  func(in *KeyInput) { in.PolicyDigest = "pd2" },
		"ops":     func(in *KeyInput) { in.OpsVersion = "ops/v2" },
		"profile": func(in *KeyInput) { in.KernelProfile = "strict" },
	} {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			k, err := Key(in)
			require.NoError(t, err)
			assert.NotEqual(t, k1, k)
		})
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	_, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "a", sampleResult()))
	require.NoError(t, m.Set(ctx, "b", diag.NewResult(nil)))
	require.NoError(t, m.Set(ctx, "a", sampleResult()))
	assert.Equal(t, 2, m.Len())

	got, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(), got)

	require.NoError(t, m.Set(ctx, "c", diag.NewResult(nil)))
	assert.Equal(t, 2, m.Len())
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
}

func TestMemory_StaysBounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), sampleResult()))
	}
	assert.Equal(t, 8, m.Len())
	_, ok, _ := m.Get(ctx, "k99")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "k0")
	assert.False(t, ok)
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			for j := 0; j < 50; j++ {
				_ = m.Set(ctx, key, sampleResult())
				_, _, _ = m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, m.Len())
}

// TestRedis_Integration requires a running Redis on localhost.
func TestRedis_Integration(t *testing.T) {
	r := NewRedis("localhost:6379", "", 0, time.Minute)
	defer func() { _ = r.Close() }()
	ctx := context.Background()
	if err := r.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test-" + time.Now().Format(time.RFC3339Nano)
	_, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, key, sampleResult()))
	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.OK)
	require.Len(t, got.Diagnostics, 1)
	assert.Equal(t, diag.RespHashMismatch, got.Diagnostics[0].Code)
	assert.Equal(t, "bb", got.Diagnostics[0].Details["computed"])
}
