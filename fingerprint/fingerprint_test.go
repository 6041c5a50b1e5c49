package fingerprint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasmus-project/esrp/canonical"
	"github.com/erasmus-project/esrp/protocol"
)

func sampleSubset(t *testing.T) protocol.FingerprintSubset {
	t.Helper()
	return protocol.FingerprintSubset{
		Target: protocol.Target{Service: "tts", Operation: "synthesize"},
		Inputs: []protocol.IO{
			{Name: "text", ContentType: "text/plain", Data: "Hello, world!", Encoding: protocol.EncodingUTF8, Metadata: map[string]any{}},
		},
		Params: map[string]any{"voice": "en-US-Standard-A"},
	}
}

// === FINGERPRINT SENSITIVITY (invariant 6 & 7) ===

func TestCompute_SensitiveToTargetOperation(t *testing.T) {
	subset := sampleSubset(t)
	h1, err := Compute(subset)
	require.NoError(t, err)

	subset2 := sampleSubset(t)
	subset2.Target.Operation = "transcribe"
	h2, err := Compute(subset2)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCompute_SensitiveToInputOrder(t *testing.T) {
	base := sampleSubset(t)
	base.Inputs = []protocol.IO{
		{Name: "a", ContentType: "text/plain", Data: "1", Encoding: protocol.EncodingUTF8},
		{Name: "b", ContentType: "text/plain", Data: "2", Encoding: protocol.EncodingUTF8},
	}
	reordered := sampleSubset(t)
	reordered.Inputs = []protocol.IO{
		{Name: "b", ContentType: "text/plain", Data: "2", Encoding: protocol.EncodingUTF8},
		{Name: "a", ContentType: "text/plain", Data: "1", Encoding: protocol.EncodingUTF8},
	}

	h1, err := Compute(base)
	require.NoError(t, err)
	h2, err := Compute(reordered)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCompute_InsensitiveToParamsKeyOrder(t *testing.T) {
	subset1 := sampleSubset(t)
	subset1.Params = map[string]any{"voice": "en-US", "rate": 1}

	subset2 := sampleSubset(t)
	subset2.Params = map[string]any{"rate": 1, "voice": "en-US"}

	h1, err := Compute(subset1)
	require.NoError(t, err)
	h2, err := Compute(subset2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCompute_VariantAbsenceDoesNotShiftHash(t *testing.T) {
	subset := sampleSubset(t)
	subset.Target.Variant = nil
	h1, err := Compute(subset)
	require.NoError(t, err)

	// variant is always emitted as JSON null when absent, so the hash must
	// equal that of the same tree with "variant": null spelled out.
	h2, err := canonical.Hash(map[string]any{
		"target": map[string]any{"service": "tts", "operation": "synthesize", "variant": nil},
		"inputs": []any{map[string]any{
			"name": "text", "content_type": "text/plain", "data": "Hello, world!",
			"encoding": "utf-8", "metadata": map[string]any{},
		}},
		"params": map[string]any{"voice": "en-US-Standard-A"},
	})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCompute_RejectsFloatInParams(t *testing.T) {
	subset := sampleSubset(t)
	subset.Params = map[string]any{"temperature": 0.7}

	_, err := Compute(subset)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrFloatNotAllowed, err.(*protocol.Error).Kind)
}

func TestComputeForRequest_DecodedIntegerParamDoesNotFingerprintAsFloat(t *testing.T) {
	// Integer-valued params must survive JSON decode as json.Number, not
	// float64, or they'd be rejected as floats here even though an
	// integer param is permitted.
	raw := []byte(`{
		"esrp_version": "1.0",
		"request_id": "req-1",
		"caller": {"system": "test"},
		"target": {"service": "tts", "operation": "synthesize"},
		"inputs": [{"name": "text", "content_type": "text/plain", "data": "hi", "encoding": "utf-8"}],
		"params": {"rate": 1}
	}`)

	var req protocol.Request
	require.NoError(t, json.Unmarshal(raw, &req))

	hash, err := ComputeForRequest(&req)
	require.NoError(t, err)
	assert.Len(t, hash, 64)
}

func TestVerify_MatchesComputedHash(t *testing.T) {
	subset := sampleSubset(t)
	key, err := Compute(subset)
	require.NoError(t, err)

	ok, err := Verify(subset, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(subset, "not-the-real-hash")
	require.NoError(t, err)
	assert.False(t, ok)
}

// === MEMORY CACHE ===

func TestMemoryCache_PutGetRoundTrip(t *testing.T) {
	cache := NewMemoryCache(0)
	defer cache.Stop()

	resp := &protocol.Response{RequestID: "req-1", Status: protocol.StatusSucceeded}
	require.NoError(t, cache.Put(context.Background(), "key-1", resp, time.Minute))

	got, found, err := cache.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestMemoryCache_FirstWriterWins(t *testing.T) {
	cache := NewMemoryCache(0)
	defer cache.Stop()
	ctx := context.Background()

	first := &protocol.Response{RequestID: "req-first", Status: protocol.StatusSucceeded}
	second := &protocol.Response{RequestID: "req-second", Status: protocol.StatusSucceeded}

	require.NoError(t, cache.Put(ctx, "key", first, time.Minute))
	require.NoError(t, cache.Put(ctx, "key", second, time.Minute))

	got, found, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-first", got.RequestID)
}

func TestMemoryCache_ExpiresEntries(t *testing.T) {
	cache := NewMemoryCache(0)
	defer cache.Stop()
	ctx := context.Background()

	resp := &protocol.Response{RequestID: "req-1", Status: protocol.StatusSucceeded}
	require.NoError(t, cache.Put(ctx, "key", resp, -time.Second)) // already expired

	_, found, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_ClonedEntryDoesNotAliasCaller(t *testing.T) {
	cache := NewMemoryCache(0)
	defer cache.Stop()
	ctx := context.Background()

	resp := &protocol.Response{RequestID: "req-1", Status: protocol.StatusSucceeded}
	require.NoError(t, cache.Put(ctx, "key", resp, time.Minute))

	resp.RequestID = "mutated-after-put"

	got, found, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-1", got.RequestID)
}

// === REDIS CACHE (miniredis, no live Redis server required) ===

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return NewRedisCache(client, "esrp:idempotency:"), server
}

func TestRedisCache_PutGetRoundTrip(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()

	resp := &protocol.Response{RequestID: "req-1", Status: protocol.StatusSucceeded}
	require.NoError(t, cache.Put(ctx, "key-1", resp, time.Minute))

	got, found, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestRedisCache_MissingKeyNotFound(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	_, found, err := cache.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_FirstWriterWins(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()

	first := &protocol.Response{RequestID: "req-first", Status: protocol.StatusSucceeded}
	second := &protocol.Response{RequestID: "req-second", Status: protocol.StatusSucceeded}

	require.NoError(t, cache.Put(ctx, "key", first, time.Minute))
	require.NoError(t, cache.Put(ctx, "key", second, time.Minute))

	got, found, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-first", got.RequestID)
}

func TestRedisCache_EntryExpires(t *testing.T) {
	cache, server := newTestRedisCache(t)
	ctx := context.Background()

	resp := &protocol.Response{RequestID: "req-1", Status: protocol.StatusSucceeded}
	require.NoError(t, cache.Put(ctx, "key", resp, time.Second))

	server.FastForward(2 * time.Second)

	_, found, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}
