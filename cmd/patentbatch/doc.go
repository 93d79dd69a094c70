// Package main hosts the patentbatch CLI entrypoint and command graph.
//
// The Cobra command tree loads inputs and a prompt template, hands them to the
// workflow manager, and renders progress, status, and exported reports. Config
// resolution, logging setup, the session lock, and the snapshot store are
// wired once in commandContext so subcommands only deal with flags and output.
package main
