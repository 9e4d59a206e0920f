// Package storage provides the static document served for the root path.
//
// A LandingPage is either the document embedded in the binary or a file on disk. A file
// may be resolved under an assets root, in which case the path can never escape that
// root, and may be watched so edits are picked up without a restart. The document is
// swapped atomically; readers never observe a partial write.
package storage
