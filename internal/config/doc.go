// Package config loads, normalizes, and validates sermonpipe configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and layers SERMONPIPE_* environment overrides
// for secrets and connection strings on top. The Config type centralizes every
// knob the daemon and CLI need: directories, external binaries, the pipeline
// deadline budget and progress bands, the queue retry policy, and the storage,
// document, and progress backends.
//
// Binary paths are read once at startup and passed explicitly to the media
// wrappers; nothing else in the process mutates them.
package config
