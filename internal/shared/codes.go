package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DisplayCode formats the human-facing code of a record, e.g. WO25-0042.
func DisplayCode(prefix string, createdAt time.Time, id int64) string {
	return fmt.Sprintf("%s%02d-%04d", prefix, createdAt.Year()%100, id)
}

// IDGenerator produces identifiers for new records.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string {
	return uuid.NewString()
}
