package ports

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
)

// ParseExclusions expands entries such as "10022" or "10100-10199" into a port set.
func ParseExclusions(entries []string) (map[int]struct{}, error) {
	out := make(map[int]struct{})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		start, end, err := nat.ParsePortRange(entry)
		if err != nil {
			return nil, fmt.Errorf("parse excluded ports %q: %w", entry, err)
		}
		if start > end {
			start, end = end, start
		}
		for p := start; p <= end; p++ {
			out[int(p)] = struct{}{}
		}
	}
	return out, nil
}
