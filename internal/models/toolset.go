package models

import (
	"encoding/json"
	"time"
)

// ToolSet is a persisted set of tool definitions for one namespace
// source. Digest is the SHA-256 of the root document bytes the tools were
// built from; a different digest means the entry is stale.
type ToolSet struct {
	Key       string          `json:"key" badgerhold:"key"`
	Namespace string          `json:"namespace" badgerhold:"index"`
	Source    string          `json:"source"`
	Digest    string          `json:"digest"`
	Tools     json.RawMessage `json:"tools"`
	CreatedAt time.Time       `json:"created_at"`
}

// Matches reports whether the entry was built from a document with digest.
func (t *ToolSet) Matches(digest string) bool {
	return t != nil && digest != "" && t.Digest == digest
}
