// Package daemonctl inspects and stops a ferry instance running in another
// process. The instance lock decides whether one is running; the pid file
// says which process to signal.
package daemonctl
