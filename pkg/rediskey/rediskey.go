package rediskey

import "fmt"

// Participation keys
const (
	ParticipationPrefix            = "participation"
	ParticipationIdempotencyPrefix = "participation:idempotency"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildIdempotencyKey returns "participation:idempotency:{memberID}:{key}".
// Keys are scoped per member so two members can reuse the same client key.
func BuildIdempotencyKey(memberID, key string) string {
	return NamespaceKey(ParticipationIdempotencyPrefix, NamespaceKey(memberID, key))
}
