package types

// Relation declares a symmetric relation between Table.Field and
// PeerTable.PeerField. Valued relations carry a value per edge (an
// attendance flag for parties); the others are plain key sets.
type Relation struct {
	Table     string
	Field     string
	PeerTable string
	PeerField string
	Valued    bool
}

// StandardRelations lists the relations between the standard tables. The
// first side of each pair owns the relation in storage.
var StandardRelations = []Relation{
	{Table: TableClubs, Field: FieldMembers, PeerTable: TableMembers, PeerField: FieldClubs},
	{Table: TableOfficers, Field: FieldMember, PeerTable: TableMembers, PeerField: FieldPositions},
	{Table: TableMails, Field: FieldRecipients, PeerTable: TableMembers, PeerField: FieldMails},
	{Table: TableParties, Field: FieldAttendances, PeerTable: TableMembers, PeerField: FieldParties, Valued: true},
}

// listFields are the fields each table shows in list views, besides the
// primary key.
var listFields = map[string][]string{
	TableMembers:  {FieldNickname, FieldRealname, FieldEntrance, FieldAffiliation, FieldOB},
	TableClubs:    {FieldName, FieldChief},
	TableOfficers: {FieldName, FieldMember},
	TableMails:    {FieldFrom, FieldTo, FieldDate},
	TableParties:  {FieldCreator, FieldStart, FieldEnd, FieldPlace, FieldDue},
}

// ListFields returns the list-view fields of table, or nil for an unknown
// table.
func ListFields(table string) []string {
	fields, ok := listFields[table]
	if !ok {
		return nil
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
