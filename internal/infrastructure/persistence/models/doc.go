// Package models holds GORM models for tables that are not domain rows.
// Domain rows (housing, posts, ...) are stored directly from their
// community types; bookkeeping tables live here with their conversions.
package models
