package segment

import "fmt"

// FileName returns the on-disk filename for a segment at the given
// level and ID, e.g. "L0-000007.seg".
func FileName(level int, id uint64) string {
	return fmt.Sprintf("L%d-%06d.seg", level, id)
}
