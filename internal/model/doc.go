// Package model defines records and record types.
//
// A Type is declared once (in Go or compiled from CUE) and never mutated. It
// names the attributes a record carries and the behaviors the type opts into:
// a content-addressed or random key, a derived slug, a default serializable
// field set, soft deletion, audit timestamps and audit logging.
//
// Records are reached through the Record interface. Attr is the non-forcing
// read: it reports only what is already materialized in memory and never
// reaches through to a store. Entity is the generic map-backed Record used by
// every store backend.
package model
