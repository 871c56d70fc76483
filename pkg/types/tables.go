package types

// Standard table names. Each table is served by one entity store.
const (
	TableMembers  = "members"
	TableClubs    = "clubs"
	TableOfficers = "officers"
	TableMails    = "mails"
	TableParties  = "parties"
)

// StandardTableNames lists all standard table names for enumeration.
var StandardTableNames = []string{
	TableMembers,
	TableClubs,
	TableOfficers,
	TableMails,
	TableParties,
}

// primaryKeys maps each table to the field that identifies its entities.
var primaryKeys = map[string]string{
	TableMembers:  FieldID,
	TableClubs:    FieldID,
	TableOfficers: FieldID,
	TableMails:    FieldSubject,
	TableParties:  FieldName,
}

// PrimaryKey returns the key field of the named table.
// Returns ErrTableNotFound if the name is not a standard table.
func PrimaryKey(table string) (string, error) {
	key, ok := primaryKeys[table]
	if !ok {
		return "", ErrTableNotFound
	}
	return key, nil
}

// ValidTable reports whether name is one of the standard tables.
func ValidTable(name string) bool {
	_, ok := primaryKeys[name]
	return ok
}
