// Package gmtsar is the client for the external SAR-processing collaborator
// that focuses raw acquisitions into unwrapped displacement rasters. The
// core treats it as a synchronous batch call: submit one epoch, wait with a
// timeout, retry transient failures with backoff, and give up on that epoch
// alone once the retry budget is spent.
package gmtsar
