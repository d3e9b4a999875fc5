// Package pack implements a sealed resource archive format optimized for
// fast startup indexing and random access reads.
//
// An archive lays out as [Header][Data Region][Directory Region]. The
// directory is a compact fixed-record index over all packed resources,
// independently checksummed so it can be validated before any offset in it
// is trusted. Payloads are placed at configurable alignment boundaries,
// which allows memory-mapped or device-mapped consumers to use entry data
// in place.
//
// # Writing
//
//	w, err := pack.Begin(target)
//	if err != nil {
//	    return err
//	}
//	err = w.AddBytes("textures/hero", 7, heroPixels, pack.WithAlignment(4096))
//	if err != nil {
//	    return err
//	}
//	err = w.Finalize(ctx)
//
// # Reading
//
//	archive, err := pack.Open(src)
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//	data, err := archive.ReadAll("textures/hero")
//
// After Open completes the in-memory directory is immutable; Resolve,
// Entries and ReadRange are safe for concurrent use without locking.
//
// The core treats payload bytes as opaque: the per-entry content tag is
// carried through unchanged and codec or decode concerns belong to the
// consumer.
package pack
