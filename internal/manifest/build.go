package manifest

import (
	"fmt"
	"math"
	"strings"
)

// Build renders locators as a media playlist, each segment announced with the
// given duration in seconds. If ended is true, #EXT-X-ENDLIST is appended.
// An empty locator list produces a minimal valid playlist.
func Build(locators []string, segmentDuration float64, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segmentDuration))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	if len(locators) > 0 {
		b.WriteString("\n")
	}
	for _, loc := range locators {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\n", segmentDuration)
		b.WriteString(loc)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// targetDuration is the ceiling of the segment duration, at least 1.
func targetDuration(d float64) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d))
}
