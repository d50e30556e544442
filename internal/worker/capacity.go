package worker

import (
	"context"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// CheckCapacity rejects a source of size bytes when size >= available+margin.
// margin may be negative to demand headroom.
func CheckCapacity(size, available, margin int64) error {
	if size >= available+margin {
		return &models.CapacityError{SourceSize: size, Available: available, Margin: margin}
	}
	return nil
}

// AvailableMemory reads the memory available for new allocations without
// swapping.
func AvailableMemory(ctx context.Context) (int64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	if vm.Available > math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(vm.Available), nil
}
