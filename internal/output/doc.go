// Package output accumulates per-input results, reports progress, and builds
// the exportable report.
//
// Handler is append-only: results are keyed by request id or batch custom id
// and updated in place. Report columns whose longest value exceeds the cell
// limit are split into numbered parts that concatenate back to the original
// text. Exporters write XLSX (Results and Metadata sheets), CSV, or JSON.
package output
