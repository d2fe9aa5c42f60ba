// Package presets defines the closed output table mapping preset names to
// ffmpeg argument templates.
//
// The table is the only path from a requester's output_spec to subprocess
// arguments: names select enumerated rows, so no requester text ever reaches
// the toolchain command line. Add new outputs by extending the table, never
// by interpolating strings at call sites.
package presets
