// Package memory indexes the course knowledge base (FAQ and curriculum
// documents) into SQLite and serves hybrid vector + keyword search for
// the support agent. With no embedding provider configured the store
// degrades to keyword-only search.
package memory
