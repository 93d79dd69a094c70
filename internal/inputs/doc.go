// Package inputs loads input lists and prompt templates from files.
//
// Tabular sources (CSV and XLSX) use the first row as column names. JSON
// sources hold an array whose elements are strings or objects; JSONL holds
// one such element per line. An "id" column or key supplies the input id;
// rows without one are numbered "input-N". A single remaining column becomes
// raw text, several become an ordered record.
package inputs
