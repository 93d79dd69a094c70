// Package prompt renders the user prompt, chat request body, and batch JSONL
// line for one input under a template.
//
// Every function is pure. Identical inputs and templates produce byte-identical
// output, which lets a batch run re-derive any request from its input, template,
// and custom id.
package prompt
