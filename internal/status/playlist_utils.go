package status

import (
	"fmt"
	"math"
	"strings"
)

// DefaultSegmentSeconds is the length of each HLS segment of a media playlist.
const DefaultSegmentSeconds = 10

// Segment is one entry of an HLS media playlist.
type Segment struct {
	Sequence int64
	Duration float64
	URI      string
}

// Variant is one entry of an HLS master playlist.
type Variant struct {
	BitRate    int // kbps
	Resolution *Resolution
	URI        string
}

// BuildMasterPlaylist lists one #EXT-X-STREAM-INF per variant.
func BuildMasterPlaylist(variants []Variant) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d", v.BitRate*1000))
		if v.Resolution != nil {
			b.WriteString(fmt.Sprintf(",RESOLUTION=%dx%d", v.Resolution.Width, v.Resolution.Height))
		}
		b.WriteString("\n")
		b.WriteString(v.URI)
		b.WriteString("\n")
	}

	return b.String()
}

// BuildMediaPlaylist converts segments (ordered by sequence ascending) into an
// HLS media playlist. If ended is true, #EXT-X-ENDLIST is appended.
// An empty segments slice produces a minimal valid playlist with media sequence 0.
func BuildMediaPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDurationFromSegments(segments)))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence))

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n", seg.Duration))
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// VODSegments splits a media file of durationSeconds into segments of
// segmentSeconds; the last one holds the remainder. uri builds the segment
// URI from its start offset in seconds.
func VODSegments(durationSeconds, segmentSeconds int, uri func(offset int) string) []Segment {
	if durationSeconds <= 0 {
		return nil
	}
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}

	segments := make([]Segment, 0, durationSeconds/segmentSeconds+1)
	for offset, seq := 0, int64(0); offset < durationSeconds; offset, seq = offset+segmentSeconds, seq+1 {
		d := min(segmentSeconds, durationSeconds-offset)
		segments = append(segments, Segment{Sequence: seq, Duration: float64(d), URI: uri(offset)})
	}
	return segments
}

// targetDurationFromSegments returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds (integer).
func targetDurationFromSegments(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
