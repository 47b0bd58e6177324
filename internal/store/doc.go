// Package store keeps the run's records as a JSON array on disk. The file is
// rewritten after every append through a temp file and a rename, so readers
// polling it never see a partial document.
package store
