package demux

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeSliceDPA   = 2
	NALTypeSliceDPC   = 4
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// Kind is the role a NAL unit plays when assembling access units.
type Kind int

const (
	KindOther Kind = iota
	KindSPS
	KindPPS
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindSPS:
		return "sps"
	case KindPPS:
		return "pps"
	case KindFrame:
		return "frame"
	default:
		return "other"
	}
}

// Classify maps a NAL type to its Kind. Coded slice types 1 through 5 are
// frames; SEI, delimiters, filler and reserved types are KindOther.
func Classify(nalType byte) Kind {
	switch {
	case nalType == NALTypeSPS:
		return KindSPS
	case nalType == NALTypePPS:
		return KindPPS
	case nalType >= NALTypeSlice && nalType <= NALTypeIDR:
		return KindFrame
	default:
		return KindOther
	}
}

// NALUnit is one start-code delimited unit of an Annex B stream.
type NALUnit struct {
	Type byte // 5-bit nal_unit_type
	Kind Kind
	// Offset is the position of the unit's start code in the scanned buffer;
	// MarkerLen is 3 or 4.
	Offset    int
	MarkerLen int
	// Data is the unit including its header byte, without start code. It
	// aliases the scanned buffer.
	Data []byte
}

// Scan finds every start code (00 00 01 or 00 00 00 01) in data and returns
// the units between them in stream order. Bytes before the first start code
// are ignored. Adjacent start codes yield an empty KindOther unit, so the
// units' markers and data always concatenate back to the scanned bytes.
func Scan(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type marker struct {
		start int
		data  int
	}

	var markers []marker
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				markers = append(markers, marker{start: i, data: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				markers = append(markers, marker{start: i, data: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]NALUnit, 0, len(markers))
	for idx, m := range markers {
		end := n
		if idx+1 < len(markers) {
			end = markers[idx+1].start
		}
		nal := data[m.data:end]
		kind := KindOther
		var typ byte
		if len(nal) > 0 {
			typ = nal[0] & 0x1F
			kind = Classify(typ)
		}
		units = append(units, NALUnit{
			Type:      typ,
			Kind:      kind,
			Offset:    m.start,
			MarkerLen: m.data - m.start,
			Data:      nal,
		})
	}
	return units
}
