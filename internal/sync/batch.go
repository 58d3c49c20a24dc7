package sync

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/hyperengineering/tasksync/internal/types"
)

// ErrIntegrity is returned when a batch no longer matches its fingerprint.
var ErrIntegrity = errors.New("batch integrity check failed")

// Fingerprint is a 32-byte keyed BLAKE3 digest over a batch.
type Fingerprint [32]byte

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Batch is a contiguous slice of the ordered queue.
type Batch struct {
	Index       int
	Operations  []types.QueuedOperation
	Fingerprint Fingerprint
}

// IDs returns the operation ids in processing order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Operations))
	for i, op := range b.Operations {
		ids[i] = op.ID
	}
	return ids
}

// batchDomainKey separates batch fingerprints from any other BLAKE3 use.
var batchDomainKey = [32]byte{
	't', 'a', 's', 'k', 's', 'y', 'n', 'c', '.', 's', 'y', 'n', 'c', '.',
	'b', 'a', 't', 'c', 'h', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2) so the
// same members always produce identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sync: CBOR encoder initialization failed: " + err.Error())
	}
}

// member is the canonical form of an operation inside a fingerprint.
// Payload is hashed as stored bytes, so any byte change is detected.
type member struct {
	_        struct{} `cbor:",toarray"`
	ID       string
	TargetID string
	Kind     string
	Payload  []byte
}

// ComputeFingerprint hashes the members of ops sorted by id, making the
// result independent of the order ops are passed in.
func ComputeFingerprint(ops []types.QueuedOperation) (Fingerprint, error) {
	members := make([]member, len(ops))
	for i, op := range ops {
		members[i] = member{
			ID:       op.ID,
			TargetID: op.TargetID,
			Kind:     string(op.Kind),
			Payload:  []byte(op.Payload),
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID < members[j].ID
	})

	encoded, err := encMode.Marshal(members)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("encode batch: %w", err)
	}

	hasher, err := blake3.NewKeyed(batchDomainKey[:])
	if err != nil {
		return Fingerprint{}, fmt.Errorf("init hasher: %w", err)
	}
	hasher.Write(encoded)

	var fp Fingerprint
	copy(fp[:], hasher.Sum(nil))
	return fp, nil
}

// Assemble partitions the ordered ops into contiguous groups of at most
// size members and fingerprints each group.
func Assemble(ops []types.QueuedOperation, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	batches := make([]Batch, 0, (len(ops)+size-1)/size)
	for start := 0; start < len(ops); start += size {
		end := start + size
		if end > len(ops) {
			end = len(ops)
		}
		group := ops[start:end:end]
		fp, err := ComputeFingerprint(group)
		if err != nil {
			return nil, fmt.Errorf("fingerprint batch %d: %w", len(batches), err)
		}
		batches = append(batches, Batch{
			Index:       len(batches),
			Operations:  group,
			Fingerprint: fp,
		})
	}
	return batches, nil
}

// Verify recomputes the fingerprint over current and compares it with the
// one taken at assembly. current must hold what the queue returns now for
// the batch's ids; a missing or modified member yields ErrIntegrity.
func (b Batch) Verify(current []types.QueuedOperation) error {
	if len(current) != len(b.Operations) {
		return fmt.Errorf("%w: batch %d has %d members, queue returned %d",
			ErrIntegrity, b.Index, len(b.Operations), len(current))
	}
	fp, err := ComputeFingerprint(current)
	if err != nil {
		return err
	}
	if fp != b.Fingerprint {
		return fmt.Errorf("%w: batch %d fingerprint %s, recomputed %s",
			ErrIntegrity, b.Index, b.Fingerprint, fp)
	}
	return nil
}
