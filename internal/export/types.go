// Package export renders analysis results as edit decision lists so frame
// descriptions can be dropped onto an editor timeline as annotated events.
package export

// Event is one EDL event: a span of the source video with a note attached.
type Event struct {
	Name      string
	MediaPath string
	StartMs   int
	EndMs     int
	Comment   string
}
