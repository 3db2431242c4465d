package batch

// SizeInBytes returns the encoded length of a serialized record. Go strings are UTF-8
// byte sequences, so the length is known without encoding a copy.
func SizeInBytes(s string) int {
	return len(s)
}

// PayloadSize returns the byte length of items joined by single-byte separators
// without building the joined payload.
func PayloadSize(items []string) int {
	if len(items) == 0 {
		return 0
	}
	n := len(items) - 1
	for _, item := range items {
		n += SizeInBytes(item)
	}
	return n
}
