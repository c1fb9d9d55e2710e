package oplog

import "fmt"

// Applier is the mutation surface a log is replayed into.
type Applier interface {
	Insert(value uint64, low, high uint64) error
	Delete(low, high uint64) error
}

// CheckFunc runs after each replayed operation.
type CheckFunc func(index int, op Op) error

// Replay applies ops in order. Inserted intervals carry their operation index
// as payload. Replay stops at the first failing operation or check.
func Replay(ops []Op, target Applier, check CheckFunc) error {
	for idx, op := range ops {
		var err error

		switch op.Kind {
		case KindInsert:
			err = target.Insert(uint64(idx), op.Low, op.High)
		case KindDelete:
			err = target.Delete(op.Low, op.High)
		default:
			err = fmt.Errorf("%w: %d", ErrUnknownKind, op.Kind)
		}

		if err != nil {
			return fmt.Errorf("%w: op %d %s [%d, %d]: %w", ErrReplay, idx, op.Kind, op.Low, op.High, err)
		}

		if check == nil {
			continue
		}

		if err := check(idx, op); err != nil {
			return fmt.Errorf("%w: check after op %d: %w", ErrReplay, idx, err)
		}
	}

	return nil
}
