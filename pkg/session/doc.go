// Package session persists conversation transcripts. Live sessions are
// JSONL files, one message per line, so a crashed process loses at most
// the line being written. Idle sessions are archived into SQLite and
// purged on a cron schedule.
package session
