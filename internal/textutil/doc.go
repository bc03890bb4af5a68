// Package textutil turns free-form identifiers into names that are safe to
// use as a single path segment.
package textutil
