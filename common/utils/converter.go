package utils

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
)

// SerializeData encodes a stored record as JSON
func SerializeData(data interface{}) ([]byte, error) {
	return json.Marshal(data)
}

// DeserializeData decodes a JSON record into result
func DeserializeData(data []byte, result interface{}) error {
	return json.Unmarshal(data, result)
}

// Uint32ToString converts a uint32 to its decimal form
func Uint32ToString(value uint32) string {
	return strconv.FormatUint(uint64(value), 10)
}

// StringToUint32 parses a decimal uint32
func StringToUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// Uint32ToBytes big-endian encoding (DB values, path segments)
func Uint32ToBytes(value uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	return buf
}

// BytesToUint32 extracts a big-endian uint32, reports false on a short slice
func BytesToUint32(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// Uint64ToBytes big-endian encoding (DB counters)
func Uint64ToBytes(value uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return buf
}

// BytesToUint64 extracts a big-endian uint64, reports false on a short slice
func BytesToUint64(data []byte) (uint64, bool) {
	if len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}
