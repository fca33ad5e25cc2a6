package commit

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// SerializeMigrations encodes m with encoding/gob, the same
// self-describing scheme internal/manifest uses for manifest records.
func SerializeMigrations(m Migrations) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("serialize migrations: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeMigrations decodes a migration record previously written by
// SerializeMigrations.
func DeserializeMigrations(data []byte) (Migrations, error) {
	var m Migrations
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return Migrations{}, fmt.Errorf("deserialize migrations: %w", err)
	}
	return m, nil
}
