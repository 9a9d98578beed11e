package cache

import "fmt"

// RateLimitKey is the per-caller counter key. subject is a key prefix or a
// token fingerprint, never a raw secret.
func RateLimitKey(subject string) string {
	return fmt.Sprintf("whisperd:ratelimit:%s", subject)
}
