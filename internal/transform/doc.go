// Package transform prepares fetched items for transmission.
//
// Each item gets a work directory under paths.processing_dir. Zip archives
// are extracted into it and plain files are copied; the resulting files whose
// extension is allowed by inbox.extensions become the item's artifacts.
package transform
