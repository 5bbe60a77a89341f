package stringtools

import "strings"

// ShortenAddress renders 0x1234567890abcdef... as 0x1234...cdef. Short inputs are returned untouched.
func ShortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
