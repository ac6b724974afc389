package upload

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockID returns the block id for a chunk ordinal. The id is fixed width
// with a zero-padded decimal ordinal, so lexicographic order over block ids
// equals ordinal order; finalization relies on this to restore chunk order
// with a plain sort. Stores that need opaque tokens encode the id themselves.
func BlockID(ordinal int) string {
	return fmt.Sprintf("block-%06d", ordinal)
}

// ParseBlockOrdinal recovers the chunk ordinal from a block id.
func ParseBlockOrdinal(blockID string) (int, error) {
	rest, ok := strings.CutPrefix(blockID, "block-")
	if !ok {
		return 0, fmt.Errorf("malformed block id %q", blockID)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("malformed block ordinal %q: %w", rest, err)
	}
	return n, nil
}
