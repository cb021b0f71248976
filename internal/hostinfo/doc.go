// Package hostinfo detects what the host platform offers the process:
// whether it runs unattended, whether it may raise scheduling priorities,
// and how much TCP keep-alive tuning the network stack honours.
package hostinfo
