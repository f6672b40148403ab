// Package output renders retouch-cli results.
//
// Listings render as aligned tables by default, or as JSON or YAML for
// scripts. Struct fields are described with a `table` tag:
//
//	table:"-"      never shown
//	table:"wide"   shown only with --wide
//	table:"time"   unix milliseconds rendered as a timestamp
//	table:"bytes"  a size rendered as KB/MB
//
// Options combine with commas, e.g. `table:"wide,time"`.
package output
