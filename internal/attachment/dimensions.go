package attachment

import (
	"encoding/binary"
	"errors"
)

// errNoSOF signals a JPEG with no recognizable start-of-frame marker; this
// fails closed and is treated as a rejection.
var errNoSOF = errors.New("attachment: no JPEG SOF marker found")

// imageDimensions reports the pixel width/height of a PNG or JPEG, reading
// only the fixed header offsets the format guarantees. For any other image
// MIME it returns 0, 0, nil, and the caller skips the dimension bounds
// check for that MIME.
func imageDimensions(mime string, data []byte) (width, height int, err error) {
	switch mime {
	case "image/png":
		return pngDimensions(data)
	case "image/jpeg":
		return jpegDimensions(data)
	default:
		return 0, 0, nil
	}
}

// pngDimensions reads the 32-bit big-endian width/height from the IHDR
// chunk at fixed offsets 16 and 20.
func pngDimensions(data []byte) (int, int, error) {
	if len(data) < 24 {
		return 0, 0, errors.New("attachment: PNG too short to contain IHDR")
	}
	width := binary.BigEndian.Uint32(data[16:20])
	height := binary.BigEndian.Uint32(data[20:24])
	return int(width), int(height), nil
}

// jpegDimensions scans for a start-of-frame marker (FFC0, FFC1, or FFC2)
// and reads height/width from the fixed +5/+7 offsets within that marker's
// segment. If no SOF marker is found the image fails closed.
func jpegDimensions(data []byte) (int, int, error) {
	pos := 2 // skip the FFD8 SOI marker
	for pos+9 < len(data) {
		if data[pos] != 0xFF {
			pos++
			continue
		}
		marker := data[pos+1]
		if marker == 0xC0 || marker == 0xC1 || marker == 0xC2 {
			height := int(binary.BigEndian.Uint16(data[pos+5 : pos+7]))
			width := int(binary.BigEndian.Uint16(data[pos+7 : pos+9]))
			return width, height, nil
		}
		// Markers without a payload length to skip.
		if marker == 0xD8 || marker == 0xD9 || (marker >= 0xD0 && marker <= 0xD7) {
			pos += 2
			continue
		}
		if pos+4 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		pos += 2 + segLen
	}
	return 0, 0, errNoSOF
}
