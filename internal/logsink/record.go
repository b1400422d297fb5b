package logsink

import (
	"context"
	"strings"
	"time"

	"vtrace/internal/clock"
)

// Record is one logged event of one process.
type Record struct {
	ProcessID   string
	Description string
	Clock       clock.Snapshot
	Time        time.Time
}

// Sink receives records in the order the owning process produced them.
// Implementations must write each record atomically.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

var descriptionReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Format renders rec as
//
//	<pid> {"p1":1,"p2":3}
//	<description>
//
// Line breaks inside the description are replaced with spaces so that each
// record always spans exactly two lines.
func Format(rec Record) string {
	var sb strings.Builder
	sb.WriteString(rec.ProcessID)
	sb.WriteByte(' ')
	sb.WriteString(rec.Clock.Format())
	sb.WriteByte('\n')
	sb.WriteString(descriptionReplacer.Replace(rec.Description))
	sb.WriteByte('\n')
	return sb.String()
}
