// Package id generates identifiers for persisted entities.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string. Version 7 keeps primary key
// inserts append-mostly under Postgres B-tree indexes.
func NewUUIDv7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does, which is fatal
		// for credential generation anyway.
		panic(err)
	}
	return v7.String()
}
