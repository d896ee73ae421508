package gda

// DefaultIDField is the identifier field name assumed when a Descriptor
// leaves ID empty.
const DefaultIDField = "id"

// Descriptor names the backend target for one entity type. Every adapter
// constructor takes one, which replaces runtime type introspection: the DAO
// learns the table/collection, the identifier column, and any field renames
// from here instead of reflecting over T.
type Descriptor struct {
	// Name identifies the entity in diagnostics. Optional.
	Name string

	// Table is the relational table or document collection name. The SQL
	// adapters fall back to the ORM's own naming when it is empty.
	Table string

	// ID is the identifier column or field name. Defaults to "id".
	ID string

	// Fields optionally renames logical field names to their stored form.
	// Translators consult it for every restriction and update key; keys not
	// present map to themselves.
	Fields map[string]string
}

// Column returns the stored name for a logical field.
func (d Descriptor) Column(field string) string {
	if stored, ok := d.Fields[field]; ok {
		return stored
	}
	return field
}

// IDColumn returns the identifier column name, applying the default.
func (d Descriptor) IDColumn() string {
	if d.ID != "" {
		return d.ID
	}
	return DefaultIDField
}
