package redis

const (
	// KeyPrefixNegative is the prefix for recently failed submissions
	KeyPrefixNegative = "directory:negative:"
)

// NegativeKey returns the Redis key remembering a failed URL
func NegativeKey(url string) string {
	return KeyPrefixNegative + url
}
