// Package snapshot is the keyed cache of server-returned entities.
//
// Keys are hierarchical ([]string). Invalidating a key invalidates every key
// it prefixes, element-wise, and nothing else. Reads never block on the
// network: Get returns whatever is cached together with the stale, loading
// and error flags. Fetch performs the network read; concurrent fetches of the
// same key share one request. A failed fetch keeps the previous value visible
// (stale-while-revalidate).
//
// Consumers that need to follow a key call Subscribe and must Close the
// returned Subscription; closing cancels any fetch that only that
// subscription was waiting on.
package snapshot
