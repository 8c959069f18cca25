// Package agent runs one LLM-backed agent turn: it builds the message
// array, drives the tool-call loop against the tool executor, and fails
// over between auth profiles when a provider misbehaves.
package agent
