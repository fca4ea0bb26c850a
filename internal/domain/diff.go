package domain

import "strconv"

// FieldChange describes one attribute that differs after a re-validation.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

func (c FieldChange) String() string {
	return c.Field + " was " + c.Old + ", updated to " + c.New
}

// Diff compares the mutable attributes of a stored instance against a freshly
// validated one. An empty result means nothing changed.
func Diff(stored, fresh Instance) []FieldChange {
	var changes []FieldChange
	addString := func(field, old, new string) {
		if old != new {
			changes = append(changes, FieldChange{Field: field, Old: old, New: new})
		}
	}
	addBool := func(field string, old, new bool) {
		if old != new {
			changes = append(changes, FieldChange{Field: field, Old: strconv.FormatBool(old), New: strconv.FormatBool(new)})
		}
	}

	addString("version", stored.Version, fresh.Version)
	addBool("https", stored.HTTPS, fresh.HTTPS)
	addBool("https_redirect", stored.HTTPSRedirect, fresh.HTTPSRedirect)
	addBool("csp_header", stored.CSPHeader, fresh.CSPHeader)
	addBool("attachments", stored.Attachments, fresh.Attachments)
	addString("country_id", stored.CountryID, fresh.CountryID)
	return changes
}
