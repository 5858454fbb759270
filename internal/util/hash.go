package util

import (
	"crypto/md5"
	"encoding/hex"
)

// HashID returns prefix followed by the hex md5 of content. The ids are
// compatible with the ones written by existing working directories.
func HashID(content, prefix string) string {
	sum := md5.Sum([]byte(content))
	return prefix + hex.EncodeToString(sum[:])
}
