// Package sink stores one fetched archive per feed ID in a gocloud.dev/blob
// bucket.
//
// # Storage Layout
//
//	{bucket}/{prefix}{feed id}{ext}
//
// With the defaults (no prefix, ".zip") feed "f-9q9-bart" lands at
// "f-9q9-bart.zip". Any bucket URL supported by gocloud works: file:///path,
// mem://, s3://, gs://.
//
// # Atomic Replace
//
// Put streams into a blob writer and only commits on a successful Close. If
// reading the source or writing fails, the writer is aborted and the previous
// object, if any, is left in place.
//
// # Listing
//
// IDs enumerates the keys under prefix with the extension and returns the
// feed IDs they encode.
package sink
