package community

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordID identifies a row within one table. The backend sends ids as
// either JSON strings or JSON numbers; both decode to the same RecordID.
type RecordID string

// UnmarshalJSON accepts a quoted string or a bare number
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("record id must be a string or number: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// String returns the id as a plain string
func (id RecordID) String() string {
	return string(id)
}

// Base holds the columns every domain table carries
type Base struct {
	ID             RecordID   `json:"id" gorm:"primaryKey;column:id" validate:"required"`
	UniversityName string     `json:"university_name" gorm:"column:university_name;index"`
	ModifiedAt     *time.Time `json:"updated_at,omitempty" gorm:"column:modified_at"`
	SyncedAt       time.Time  `json:"-" gorm:"column:synced_at"`
}

// Meta gives generic code access to the shared columns
func (b *Base) Meta() *Base {
	return b
}

// Record is the constraint satisfied by a pointer to every domain row type.
// T is the row struct; the store and resolver are written against it.
type Record[T any] interface {
	*T
	TableName() string
	Meta() *Base
}

// TableOf returns the table name of row type T
func TableOf[T any, P Record[T]]() string {
	var zero T
	return P(&zero).TableName()
}

// TagUniversity returns a copy of rows with every university_name set to name
func TagUniversity[T any, P Record[T]](rows []T, name string) []T {
	tagged := make([]T, len(rows))
	copy(tagged, rows)
	for i := range tagged {
		P(&tagged[i]).Meta().UniversityName = name
	}
	return tagged
}

// FillUniversity sets university_name on rows that arrived without one.
// Rows that already carry a university keep it.
func FillUniversity[T any, P Record[T]](rows []T, name string) []T {
	if name == "" {
		return rows
	}
	filled := make([]T, len(rows))
	copy(filled, rows)
	for i := range filled {
		meta := P(&filled[i]).Meta()
		if meta.UniversityName == "" {
			meta.UniversityName = name
		}
	}
	return filled
}
