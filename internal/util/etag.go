// Package util holds small helpers shared by the HTTP layer.
package util

import (
	"hash/crc32"
	"strconv"
	"strings"
)

var crc32Table = crc32.MakeTable(crc32.IEEE)

// ETag builds a strong entity tag from a document version and its encoded
// bytes. Equal tags mean the same version with byte-identical content.
func ETag(version int64, data []byte) string {
	sum := crc32.Checksum(data, crc32Table)
	return `"` + strconv.FormatInt(version, 10) + "-" + leftPad(strconv.FormatUint(uint64(sum), 16), 8) + `"`
}

// IfNoneMatch reports whether an If-None-Match header value matches etag,
// using weak comparison. The header may be "*" or a comma separated list.
func IfNoneMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
