package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

func makeOps(n int) []types.QueuedOperation {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ops := make([]types.QueuedOperation, n)
	for i := range ops {
		ops[i] = types.QueuedOperation{
			ID:                 fmt.Sprintf("op-%03d", i),
			TargetID:           fmt.Sprintf("R%d", i%4),
			Kind:               types.OperationUpdate,
			Payload:            json.RawMessage(fmt.Sprintf(`{"title":"task %d"}`, i)),
			OperationTimestamp: base.Add(time.Duration(i) * time.Second),
			EnqueuedAt:         base,
		}
	}
	return ops
}

func TestComputeFingerprint_OrderIndependent(t *testing.T) {
	// Given: The same members in two different orders
	ops := makeOps(5)
	reversed := make([]types.QueuedOperation, len(ops))
	for i := range ops {
		reversed[len(ops)-1-i] = ops[i]
	}

	// When: Both are fingerprinted
	a, err := ComputeFingerprint(ops)
	if err != nil {
		t.Fatalf("ComputeFingerprint() error = %v", err)
	}
	b, err := ComputeFingerprint(reversed)
	if err != nil {
		t.Fatalf("ComputeFingerprint() error = %v", err)
	}

	// Then: The fingerprints match
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
}

func TestComputeFingerprint_SingleBytePayloadChange(t *testing.T) {
	ops := makeOps(3)
	before, _ := ComputeFingerprint(ops)

	// Change one byte of one member's payload
	changed := make([]types.QueuedOperation, len(ops))
	copy(changed, ops)
	payload := []byte(changed[1].Payload)
	mutated := make([]byte, len(payload))
	copy(mutated, payload)
	mutated[len(mutated)-3] ^= 0x01
	changed[1].Payload = mutated

	after, _ := ComputeFingerprint(changed)
	if before == after {
		t.Error("fingerprint unchanged after single-byte payload change")
	}
}

func TestComputeFingerprint_SensitiveToEachField(t *testing.T) {
	ops := makeOps(1)
	base, _ := ComputeFingerprint(ops)

	mutations := map[string]func(o *types.QueuedOperation){
		"id":     func(o *types.QueuedOperation) { o.ID = "other" },
		"target": func(o *types.QueuedOperation) { o.TargetID = "other" },
		"kind":   func(o *types.QueuedOperation) { o.Kind = types.OperationDelete },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := ops[0]
			mutate(&c)
			fp, _ := ComputeFingerprint([]types.QueuedOperation{c})
			if fp == base {
				t.Errorf("fingerprint unchanged after %s change", name)
			}
		})
	}
}

func TestComputeFingerprint_IgnoresRetryBookkeeping(t *testing.T) {
	// Retry counters are not part of a member's identity.
	ops := makeOps(2)
	before, _ := ComputeFingerprint(ops)
	msg := "boom"
	ops[0].RetryCount = 2
	ops[0].LastError = &msg
	after, _ := ComputeFingerprint(ops)
	if before != after {
		t.Error("fingerprint changed after retry bookkeeping update")
	}
}

func TestAssemble_FixedSizeContiguousGroups(t *testing.T) {
	ops := makeOps(7)

	batches, err := Assemble(ops, 3)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3", len(batches))
	}
	wantSizes := []int{3, 3, 1}
	next := 0
	for i, b := range batches {
		if b.Index != i {
			t.Errorf("batch %d has Index %d", i, b.Index)
		}
		if len(b.Operations) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(b.Operations), wantSizes[i])
		}
		for _, o := range b.Operations {
			if o.ID != ops[next].ID {
				t.Errorf("batch %d member %s out of order, want %s", i, o.ID, ops[next].ID)
			}
			next++
		}
	}
}

func TestAssemble_EmptyQueue(t *testing.T) {
	batches, err := Assemble(nil, DefaultBatchSize)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("len(batches) = %d, want 0", len(batches))
	}
}

func TestAssemble_RejectsNonPositiveSize(t *testing.T) {
	if _, err := Assemble(makeOps(1), 0); err == nil {
		t.Fatal("expected error for batch size 0")
	}
}

func TestBatchVerify(t *testing.T) {
	ops := makeOps(4)
	batches, err := Assemble(ops, 4)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	b := batches[0]

	t.Run("unchanged", func(t *testing.T) {
		current := make([]types.QueuedOperation, len(ops))
		copy(current, ops)
		if err := b.Verify(current); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
	})

	t.Run("member missing", func(t *testing.T) {
		err := b.Verify(ops[:3])
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("Verify() error = %v, want ErrIntegrity", err)
		}
	})

	t.Run("member modified", func(t *testing.T) {
		current := make([]types.QueuedOperation, len(ops))
		copy(current, ops)
		current[2].Payload = json.RawMessage(`{"title":"tampered"}`)
		err := b.Verify(current)
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("Verify() error = %v, want ErrIntegrity", err)
		}
	})
}

func TestFingerprint_String(t *testing.T) {
	fp, _ := ComputeFingerprint(makeOps(1))
	if len(fp.String()) != 64 {
		t.Errorf("len(String()) = %d, want 64", len(fp.String()))
	}
}
