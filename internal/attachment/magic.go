package attachment

import "bytes"

// magicBytes maps a declared MIME type to its expected leading byte
// signature. A MIME type absent from this table skips the magic-byte
// check entirely.
var magicBytes = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/png":  {0x89, 0x50, 0x4E, 0x47},
	"image/gif":  {0x47, 0x49, 0x46},
	"image/webp": {0x52, 0x49, 0x46, 0x46},
	"application/pdf": {0x25, 0x50, 0x44, 0x46},
}

// checkMagicBytes reports whether data's leading bytes match the known
// signature for declaredMime. An unregistered MIME always passes.
func checkMagicBytes(declaredMime string, data []byte) bool {
	sig, ok := magicBytes[declaredMime]
	if !ok {
		return true
	}
	if len(data) < len(sig) {
		return false
	}
	return bytes.Equal(data[:len(sig)], sig)
}
