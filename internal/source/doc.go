// Package source discovers the latest release of a distribution and the
// download links of that release by scraping the vendor's directory listings.
//
// Sources are looked up by key in a Registry. Base URLs can be overridden to
// point at a mirror.
package source
