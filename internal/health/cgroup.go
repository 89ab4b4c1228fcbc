package health

import (
	"os"
	"strconv"
	"strings"
)

// memoryLimit returns the container memory limit in bytes, supporting both
// cgroup v2 and v1, or 0 if no limit can be detected.
func memoryLimit() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limit := strings.TrimSpace(string(data))
		if limit != "max" {
			if v, err := strconv.ParseInt(limit, 10, 64); err == nil {
				return v
			}
		}
		return 0
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}

	return 0
}
