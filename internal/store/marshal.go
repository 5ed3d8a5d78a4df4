package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/difftrace/internal/compare"
	"github.com/roach88/difftrace/internal/engine"
	"github.com/roach88/difftrace/internal/ir"
)

// marshalTensors converts tensors to canonical JSON TEXT for storage.
func marshalTensors(ts []*ir.Tensor) (string, error) {
	if ts == nil {
		ts = []*ir.Tensor{}
	}
	data, err := ir.MarshalCanonical(ts)
	if err != nil {
		return "", fmt.Errorf("marshal tensors: %w", err)
	}
	return string(data), nil
}

// unmarshalTensors parses tensors written by marshalTensors.
func unmarshalTensors(data string) ([]*ir.Tensor, error) {
	var ts []*ir.Tensor
	if err := json.Unmarshal([]byte(data), &ts); err != nil {
		return nil, fmt.Errorf("unmarshal tensors: %w", err)
	}
	if ts == nil {
		ts = []*ir.Tensor{}
	}
	return ts, nil
}

func marshalMismatch(m compare.Mismatch) (string, error) {
	data, err := ir.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal mismatch: %w", err)
	}
	return string(data), nil
}

func unmarshalMismatch(data string) (compare.Mismatch, error) {
	var m compare.Mismatch
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return compare.Mismatch{}, fmt.Errorf("unmarshal mismatch: %w", err)
	}
	return m, nil
}

// marshalErrors stores report errors as a JSON array; never NULL.
func marshalErrors(errs []*engine.Error) (string, error) {
	if errs == nil {
		errs = []*engine.Error{}
	}
	data, err := ir.MarshalCanonical(errs)
	if err != nil {
		return "", fmt.Errorf("marshal errors: %w", err)
	}
	return string(data), nil
}

func unmarshalErrors(data string) ([]*engine.Error, error) {
	var errs []*engine.Error
	if err := json.Unmarshal([]byte(data), &errs); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return errs, nil
}
