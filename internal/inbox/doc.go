// Package inbox implements the pipeline source over a watched local folder.
//
// Files with an allowed extension in inbox.monitor_dir are pending items. The
// item identifier is the file name without its extension. Listing copies each
// pending file into paths.downloads_dir, so polled items arrive already
// fetched. Acknowledge records the transmission in the ledger and deletes
// the source file when inbox.auto_delete is set.
package inbox
