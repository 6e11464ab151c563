// Package importer implements the bulk tabular import engine.
//
// An [Importer] takes an in-memory [Table] whose first row is a header,
// checks the header against an ordered list of [Column] descriptors and then
// feeds every data row, one at a time, through a caller supplied pipeline:
//
//  1. type validation and coercion ([ValidateRow])
//  2. normalization ([RowNormalizer])
//  3. domain validation ([RowValidator])
//  4. object creation ([ObjectCreator])
//
// The package parses no file formats and performs no I/O of its own. Readers
// for CSV and XLSX live in package source; persistence is whatever the
// creator does.
//
// # Outcomes
//
// A run ends in exactly one of three ways:
//
//   - completion: progress is forced to 100 and the finish handler fires
//   - fatal error: the header is missing or wrong, the body has more than
//     [Config.MaxRows] rows, or a pipeline function returned an error. The
//     error handler receives an [*ImportError] and the finish handler never fires.
//   - cancellation: [Importer.Break] was called or the context ended. Neither
//     the finish nor the error handler fires.
//
// Individual rows that fail type validation, are rejected by the validator,
// or are created but flagged with [ProcessedRow.ShouldBeReported] are
// reported through the row-failed handler and do not stop the run.
//
// # Observing a run
//
// Handlers are single-slot: registering a second progress handler replaces
// the first. Callers that need several observers use [Importer.Subscribe],
// which returns a channel of [Event] values closed when the run ends.
//
// # Pacing
//
// After each created row the engine sleeps for [Config.SleepInterval]
// (300ms unless configured). The pause is interrupted by Break and by
// context cancellation.
package importer
