// Package source provides the byte sources assets are loaded from.
//
// Dir reads from the local filesystem, S3 from a bucket, and Cached keeps
// recently used objects in memory in front of either. Names are always
// slash-separated and relative.
//
// ReadAll handles transparent decompression by extension (.gz, .zst, .lz4,
// .xz) and enforces a size limit, reporting an oversized object as an
// out-of-memory failure the resource manager understands:
//
//	data, err := source.ReadAll(ctx, src, "meshes/rock.bin.zst", 64<<20)
package source
