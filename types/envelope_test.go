package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRequestAccessors(t *testing.T) {
	req := NewRequest("a.zip", Batch(3), "payload")

	assert.Equal(t, "a.zip", req.Source())
	require.NotNil(t, req.BatchID())
	assert.Equal(t, 3, *req.BatchID())
	assert.Equal(t, "payload", req.Payload())
}

func TestRequestNilBatchID(t *testing.T) {
	req := NewRequest("a.zip", nil, nil)
	assert.Nil(t, req.BatchID())
}

func TestRequestBatchIDImmutable(t *testing.T) {
	id := 1
	req := NewRequest("a.zip", &id, nil)

	// Mutating the caller's int must not change the envelope.
	id = 99
	assert.Equal(t, 1, *req.BatchID())

	// Mutating the returned pointer must not change the envelope either.
	got := req.BatchID()
	*got = 42
	assert.Equal(t, 1, *req.BatchID())
}

func TestResponseForward(t *testing.T) {
	resp := NewResponse("a.zip", Batch(2), 0.5)
	req := resp.Forward()

	assert.Equal(t, "a.zip", req.Source())
	require.NotNil(t, req.BatchID())
	assert.Equal(t, 2, *req.BatchID())
	assert.Equal(t, 0.5, req.Payload())
}

func TestProperty_ForwardPreservesEnvelope(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		source := rapid.StringMatching(`[a-z0-9_/]{1,40}\.zip`).Draw(rt, "source")

		var batchID *int
		if rapid.Bool().Draw(rt, "batched") {
			batchID = Batch(rapid.IntRange(0, 1<<20).Draw(rt, "batch"))
		}

		resp := NewResponse(source, batchID, nil)
		req := resp.Forward()

		if req.Source() != resp.Source() {
			rt.Fatalf("source changed: %q != %q", req.Source(), resp.Source())
		}
		a, b := req.BatchID(), resp.BatchID()
		if (a == nil) != (b == nil) {
			rt.Fatalf("batch presence changed")
		}
		if a != nil && *a != *b {
			rt.Fatalf("batch ordinal changed: %d != %d", *a, *b)
		}
	})
}
