package tricache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arlog/tricache/internal/ioback"
	"github.com/arlog/tricache/internal/ioback/badgerdriver"
	"github.com/arlog/tricache/internal/ioback/filedriver"
	"github.com/arlog/tricache/internal/ioback/memdriver"
)

// openBackend dispatches spec.Kind to the matching driver constructor. This
// lives in pkg/tricache rather than internal/ioback because the driver
// packages import internal/ioback for the Backend interface; a factory
// inside internal/ioback itself would be an import cycle.
func openBackend(spec ioback.Spec, depth, workers int, log *zap.Logger) (ioback.Backend, error) {
	if err := ioback.ValidateBlockSize(spec, PageSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendIO, err)
	}
	switch spec.Kind {
	case "", "mem":
		return memdriver.New(spec.BlockSize, depth, workers), nil
	case "file":
		d, err := filedriver.Open(spec.Path, spec.BlockSize, depth, workers)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendIO, err)
		}
		return d, nil
	case "badger":
		d, err := badgerdriver.Open(spec.Path, spec.BlockSize, depth, workers, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendIO, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", ErrBackendIO, spec.Kind)
	}
}
