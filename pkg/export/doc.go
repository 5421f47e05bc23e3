// Package export writes run artifacts to the local filesystem.
//
// # Overview
//
// Every run gets its own directory under <root>/results/<run-id>/, and each
// artifact inside it is a self-contained file a billing analyst can hand off:
//   - Settlement tables in CSV, XLSX, or JSON
//   - Plain-text entity rosters (the "_remaining_names" companion file)
//   - Small notes such as the no_data marker for empty windows
//
// # Supported Formats
//
// CSV:
//   - Fixed column schema: entity_name, date, settlement_mbps, data_points,
//     direction, mode
//   - An empty result set still produces the header row
//
// XLSX:
//   - Same columns on a single "Settlement" sheet, written with excelize
//
// JSON:
//   - Results wrapped with a metadata block (window bounds, direction, mode,
//     generation timestamp), pretty-printed
//
// # Filenames
//
// Artifact base names come from a per-task template with {region},
// {category}, {direction}, {window} and {date} placeholders; see BaseName.
// Unresolvable placeholders collapse to "na" and the expanded name is
// reduced to a plain base name, so a template can never write outside the
// run directory.
//
// # Failure Semantics
//
// A write that fails part-way removes the partial file and returns an error
// wrapping ErrExport; callers never see a half-written artifact listed on a
// run.
package export
