package domain

import (
	"sort"
	"strings"
	"time"
)

// Document field names of a journal record. The body is stored as "content".
const (
	FieldTitle     = "title"
	FieldBody      = "content"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Record is one journal entry of the signed-in user. CreatedAt and UpdatedAt
// are nil while the server timestamp is still pending.
type Record struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// RecordFields is the user-editable part of a record.
type RecordFields struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body"  validate:"required"`
}

// Trimmed returns the fields with surrounding whitespace removed.
func (f RecordFields) Trimmed() RecordFields {
	return RecordFields{Title: strings.TrimSpace(f.Title), Body: strings.TrimSpace(f.Body)}
}

// Projection is the sorted, read-only view of a user's record collection.
type Projection struct {
	UserID  string   `json:"user_id"`
	Records []Record `json:"records"`
	// Seq counts the snapshots applied since the subscription opened.
	Seq uint64 `json:"seq"`
}

// Lookup returns the record with the given id.
func (p Projection) Lookup(id string) (Record, bool) {
	for _, r := range p.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// RecordFromDocument maps a store document into a Record. Missing fields map
// to their zero values.
func RecordFromDocument(doc Document) Record {
	r := Record{ID: doc.ID}
	r.Title, _ = doc.Fields[FieldTitle].(string)
	r.Body, _ = doc.Fields[FieldBody].(string)
	r.CreatedAt = timeField(doc.Fields[FieldCreatedAt])
	r.UpdatedAt = timeField(doc.Fields[FieldUpdatedAt])
	return r
}

func timeField(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		c := *t
		return &c
	default:
		return nil
	}
}

// SortRecords orders records newest first by CreatedAt. Pending timestamps
// sort as the oldest; ties keep their arrival order.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return createdMillis(records[i]) > createdMillis(records[j])
	})
}

func createdMillis(r Record) int64 {
	if r.CreatedAt == nil {
		return 0
	}
	return r.CreatedAt.UnixMilli()
}

// FilterByTitle returns the records whose title contains term, ignoring case.
// An empty term returns all records.
func FilterByTitle(records []Record, term string) []Record {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Title), term) {
			out = append(out, r)
		}
	}
	return out
}
