// Package transmit uploads staged artifacts to the configured HTTP destination.
//
// Each artifact is sent as one POST of its raw bytes to destination.url +
// destination.upload_path. Uploads within a batch run on at most
// destination.max_workers goroutines; the batch outcome counts every artifact
// exactly once. Probe issues a GET against destination.probe_path and treats
// any 2xx answer as reachable.
package transmit
