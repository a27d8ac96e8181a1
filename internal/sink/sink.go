// Package sink implements optional secondary export of decoded events,
// layered alongside ProgressStore persistence rather than replacing it.
package sink

import "chainsweep/internal/progress"

// Exporter writes a single decoded event to a secondary destination. Unlike
// progress.Store, an Exporter is not the system of record — its failures
// never block the cursor from advancing.
type Exporter interface {
	Write(progress.DecodedEvent) error
}
