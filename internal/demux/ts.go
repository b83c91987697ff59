package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
)

var errNoVideoStream = errors.New("transport stream has no H.264 elementary stream")

// IsTransportStream reports whether payload is a whole number of MPEG-TS
// packets, each starting with the sync byte.
func IsTransportStream(payload []byte) bool {
	if len(payload) < tsPacketSize || len(payload)%tsPacketSize != 0 {
		return false
	}
	for i := 0; i < len(payload); i += tsPacketSize {
		if payload[i] != tsSyncByte {
			return false
		}
	}
	return true
}

// ExtractH264 returns the concatenated PES payloads of the first H.264
// elementary stream announced in the transport stream's PMT.
func ExtractH264(payload []byte) ([]byte, error) {
	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(payload))

	var (
		videoPID uint16
		found    bool
		out      []byte
	)
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, fmt.Errorf("read transport stream: %w", err)
		}
		if d.PMT != nil && !found {
			for _, es := range d.PMT.ElementaryStreams {
				if es.StreamType == astits.StreamTypeH264Video {
					videoPID = es.ElementaryPID
					found = true
					break
				}
			}
		}
		if found && d.PES != nil && d.PID == videoPID {
			out = append(out, d.PES.Data...)
		}
	}

	if !found {
		return nil, errNoVideoStream
	}
	return out, nil
}
