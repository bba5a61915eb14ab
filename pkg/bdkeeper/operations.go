package bdkeeper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// Sealer encrypts slot payloads at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// OperationStore persists the offline queue as a JSON array in one slot.
type OperationStore struct {
	keeper *Keeper
	slot   string
	sealer Sealer
	log    logrus.FieldLogger
}

// StoreOption configures an OperationStore.
type StoreOption func(*OperationStore)

// WithSealer encrypts the slot payload.
func WithSealer(s Sealer) StoreOption {
	return func(os *OperationStore) { os.sealer = s }
}

// WithLogger sets the logger used to report corruption recovery.
func WithLogger(log logrus.FieldLogger) StoreOption {
	return func(os *OperationStore) { os.log = log }
}

// NewOperationStore returns a store bound to the named slot.
func NewOperationStore(keeper *Keeper, slot string, opts ...StoreOption) *OperationStore {
	s := &OperationStore{keeper: keeper, slot: slot, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the persisted operations in their saved order. A missing
// slot yields an empty list. A slot that cannot be decoded is treated as
// corrupted: it is deleted and an empty list is returned.
func (s *OperationStore) Load(ctx context.Context) ([]models.QueuedOperation, error) {
	payload, ok, err := s.keeper.ReadSlot(ctx, s.slot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.QueuedOperation{}, nil
	}

	ops, decodeErr := s.decode(payload)
	if decodeErr == nil {
		return ops, nil
	}

	s.log.WithError(decodeErr).WithField("slot", s.slot).Warn("Offline queue is corrupted, resetting it")
	if err := s.keeper.DeleteSlot(ctx, s.slot); err != nil {
		s.log.WithError(err).WithField("slot", s.slot).Error("Failed to reset corrupted offline queue")
	}
	return []models.QueuedOperation{}, nil
}

// Save overwrites the slot with ops.
func (s *OperationStore) Save(ctx context.Context, ops []models.QueuedOperation) error {
	payload, err := EncodeOperations(ops)
	if err != nil {
		return err
	}
	if s.sealer != nil {
		if payload, err = s.sealer.Seal(payload); err != nil {
			return fmt.Errorf("seal offline queue: %w", err)
		}
	}
	return s.keeper.WriteSlot(ctx, s.slot, payload)
}

func (s *OperationStore) decode(payload []byte) ([]models.QueuedOperation, error) {
	if s.sealer != nil {
		plain, err := s.sealer.Open(payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}
	return DecodeOperations(payload)
}

// EncodeOperations renders ops in the persisted layout. A nil slice is
// written as an empty array.
func EncodeOperations(ops []models.QueuedOperation) ([]byte, error) {
	if ops == nil {
		ops = []models.QueuedOperation{}
	}
	payload, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode offline queue: %w", err)
	}
	return payload, nil
}

// DecodeOperations parses the persisted layout. Duplicate IDs make the
// payload invalid.
func DecodeOperations(payload []byte) ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	if err := json.Unmarshal(payload, &ops); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	if ops == nil {
		// literal "null"
		return nil, fmt.Errorf("decode offline queue: not an array")
	}
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, dup := seen[op.ID]; dup {
			return nil, fmt.Errorf("decode offline queue: duplicate id %s", op.ID)
		}
		seen[op.ID] = struct{}{}
	}
	return ops, nil
}
