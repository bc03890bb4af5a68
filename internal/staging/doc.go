// Package staging manages the local download and processing areas: listing
// their entries and pruning ones older than the configured retention.
package staging
