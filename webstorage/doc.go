// Package webstorage provides origin-scoped key/value storage with the
// synchronous semantics of the web platform's storage areas: strings in,
// strings out, last writer wins, and absence distinguishable from empty.
//
// The persistent "local" area is backed by one SQLite file per origin;
// the "session" area lives in process memory and is discarded on Close.
// A typed layer serializes values as JSON and can tag them with a
// registered type name so the matching constructor runs on load. Values
// can optionally pass through a Codec (compression, encryption) on their
// way to and from the engine.
package webstorage
