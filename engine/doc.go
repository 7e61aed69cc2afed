// Package engine defines the remote-repository engine used to drive a
// cherry-pick delivery against a hosted git API.
//
// The Engine interface abstracts every remote interaction: resolving
// refs to commit SHAs, fetching diffs, trees, and blobs, creating
// blobs, trees, and commits, and performing a compare-and-swap branch
// update. The GitHub implementation lives in the github sub-package.
// Implementations never touch the local filesystem or spawn processes.
package engine
