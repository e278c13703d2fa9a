// Package domain contains the core value types shared across the scan
// pipeline: scan targets and their keyed hashes, redirect-resolution results,
// blocklist check results, verdicts and artifact candidates. Types here carry
// no behavior beyond small derived accessors and are safe to serialize.
package domain
