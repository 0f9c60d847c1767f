// Package osutil reads host resource limits.
package osutil

import (
	"os"
	"strconv"
	"strings"

	"github.com/pbnjay/memory"
)

const (
	// cgroup v1 reports this value when no limit is configured.
	cgroupV1Unlimited = 9223372036854771712

	cgroupV1LimitPath = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
	cgroupV2LimitPath = "/sys/fs/cgroup/memory.max"
)

// GetTotalMemory returns the memory available to the process: the cgroup
// limit when running in a constrained container, otherwise the host total.
func GetTotalMemory() uint64 {
	total := memory.TotalMemory()

	if limit, ok := readCgroupLimit(cgroupV2LimitPath); ok && limit < total {
		return limit
	}
	if limit, ok := readCgroupLimit(cgroupV1LimitPath); ok && limit < total {
		return limit
	}
	return total
}

func readCgroupLimit(path string) (uint64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parseCgroupLimit(string(raw))
}

func parseCgroupLimit(raw string) (uint64, bool) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "max" {
		return 0, false
	}

	limit, err := strconv.ParseUint(value, 10, 64)
	if err != nil || limit == 0 || limit == cgroupV1Unlimited {
		return 0, false
	}
	return limit, true
}
