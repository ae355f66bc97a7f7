// Package redis connects to Redis with go-redis. The client backs the
// session store (identity.RedisStore) and the tenant-scoped cache
// (tenant.RedisCache); Config carries the key prefixes both use.
package redis
