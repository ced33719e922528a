package gopvi

import (
	"fmt"
	"sync/atomic"
)

var uniqueID uint64

// Unique appends an _ followed by a process-wide counter to name
func Unique(name string) string {
	return fmt.Sprintf("%v_%v", name, atomic.AddUint64(&uniqueID, 1))
}
