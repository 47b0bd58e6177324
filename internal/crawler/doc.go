// Package crawler defines the types and contracts shared by the forum
// monitor's subsystems.
//
// A crawl run walks a set of forum sections. Each section starts at index
// page 1; an index page yields thread summaries, each of which becomes a
// thread fetch, and the next index page is scheduled only while the forum
// reports more pages and the per-section page budget allows it. Thread pages
// are handed to an Extractor, the resulting PostRecord is scored by a
// Classifier, optionally alerted on, and finally written to every
// RecordSink.
//
// The concrete implementations live in sibling packages (fetcher/colly,
// extract, classify, alert, store, storage/*); this package only carries the
// data model, the error taxonomy and the retry rules so that those packages
// do not depend on each other.
package crawler
