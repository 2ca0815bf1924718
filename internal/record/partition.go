package record

import "time"

// PartitionFor returns the UTC date partition (YYYY-MM-DD) for a Unix
// millisecond timestamp. Partitions exist for bulk pruning by age, never
// for identity.
func PartitionFor(unixMs int64) string {
	return time.UnixMilli(unixMs).UTC().Format("2006-01-02")
}
