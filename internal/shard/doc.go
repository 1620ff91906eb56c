// Package shard implements the sharded key/value tables that back a book's
// metadata, outline and fulltext stores.
//
// A table named "meta" is persisted as meta.js, meta1.js, meta2.js and so on.
// Each file is a JavaScript call wrapping one JSON object:
//
//	/**
//	 * <notice>
//	 */
//	scrapbook.meta({
//	  "key": value
//	})
//
// Loading merges all contiguous shards in order. A later shard overrides
// keys of an earlier one and a null value deletes the key.
package shard
