// Package sqlite implements the SQLite backend for the tsubone sync layer.
// JSONL files in the data directory are the source of truth; SQLite is the
// query engine rebuilt from them on every attach.
package sqlite

import (
	"fmt"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Schema DDL for entity tables. Column names match the entity field names
// and are always quoted ("from" and "to" are keywords).
const (
	createMembers = `CREATE TABLE members (
    "id" TEXT PRIMARY KEY,
    "nickname" TEXT,
    "realname" TEXT,
    "mail" TEXT,
    "tel" TEXT,
    "affiliation" TEXT,
    "gender" TEXT,
    "entrance" INTEGER,
    "ob" INTEGER
);`

	createClubs = `CREATE TABLE clubs (
    "id" TEXT PRIMARY KEY,
    "name" TEXT,
    "chief" TEXT
);`

	createOfficers = `CREATE TABLE officers (
    "id" TEXT PRIMARY KEY,
    "name" TEXT,
    "scope" TEXT
);`

	createMails = `CREATE TABLE mails (
    "subject" TEXT PRIMARY KEY,
    "from" TEXT,
    "to" TEXT,
    "body" TEXT,
    "date" TEXT
);`

	createParties = `CREATE TABLE parties (
    "name" TEXT PRIMARY KEY,
    "creator" TEXT,
    "start" TEXT,
    "end" TEXT,
    "place" TEXT,
    "inviteds" TEXT,
    "due" TEXT,
    "details" TEXT
);`
)

// Schema DDL for link tables. Each stores one relation from its owning
// side; officer_members keys on the officer alone so an officer has at
// most one member.
const (
	createClubMembers = `CREATE TABLE club_members (
    club_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    PRIMARY KEY (club_id, member_id)
);`

	createOfficerMembers = `CREATE TABLE officer_members (
    officer_id TEXT PRIMARY KEY,
    member_id TEXT NOT NULL
);`

	createMailRecipients = `CREATE TABLE mail_recipients (
    mail_subject TEXT NOT NULL,
    member_id TEXT NOT NULL,
    PRIMARY KEY (mail_subject, member_id)
);`

	createPartyAttendances = `CREATE TABLE party_attendances (
    party_name TEXT NOT NULL,
    member_id TEXT NOT NULL,
    attending INTEGER NOT NULL,
    PRIMARY KEY (party_name, member_id)
);`
)

// Index DDL for peer-side lookups.
const (
	idxClubMembersMember      = `CREATE INDEX idx_club_members_member ON club_members(member_id);`
	idxOfficerMembersMember   = `CREATE INDEX idx_officer_members_member ON officer_members(member_id);`
	idxMailRecipientsMember   = `CREATE INDEX idx_mail_recipients_member ON mail_recipients(member_id);`
	idxPartyAttendancesMember = `CREATE INDEX idx_party_attendances_member ON party_attendances(member_id);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createMembers,
	createClubs,
	createOfficers,
	createMails,
	createParties,
	createClubMembers,
	createOfficerMembers,
	createMailRecipients,
	createPartyAttendances,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxClubMembersMember,
	idxOfficerMembersMember,
	idxMailRecipientsMember,
	idxPartyAttendancesMember,
}

// columnType selects how a column value is converted between entity fields
// and SQLite.
type columnType int

const (
	colText columnType = iota
	colInt
	colBool
	colJSON
)

type column struct {
	name string
	typ  columnType
}

// entityDef describes one entity table. columns excludes the key.
type entityDef struct {
	table   string
	key     string
	columns []column
	// generated keys are UUID v7 strings; other tables need an explicit key.
	generated bool
}

func (d entityDef) column(name string) (column, bool) {
	for _, c := range d.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

var entityDefs = map[string]entityDef{
	types.TableMembers: {
		table: types.TableMembers,
		key:   types.FieldID,
		columns: []column{
			{types.FieldNickname, colText},
			{types.FieldRealname, colText},
			{types.FieldMail, colText},
			{types.FieldTel, colText},
			{types.FieldAffiliation, colText},
			{types.FieldGender, colText},
			{types.FieldEntrance, colInt},
			{types.FieldOB, colBool},
		},
		generated: true,
	},
	types.TableClubs: {
		table:     types.TableClubs,
		key:       types.FieldID,
		columns:   []column{{types.FieldName, colText}, {types.FieldChief, colText}},
		generated: true,
	},
	types.TableOfficers: {
		table:     types.TableOfficers,
		key:       types.FieldID,
		columns:   []column{{types.FieldName, colText}, {types.FieldScope, colText}},
		generated: true,
	},
	types.TableMails: {
		table: types.TableMails,
		key:   types.FieldSubject,
		columns: []column{
			{types.FieldFrom, colText},
			{types.FieldTo, colText},
			{types.FieldBody, colText},
			{types.FieldDate, colText},
		},
	},
	types.TableParties: {
		table: types.TableParties,
		key:   types.FieldName,
		columns: []column{
			{types.FieldCreator, colText},
			{types.FieldStart, colText},
			{types.FieldEnd, colText},
			{types.FieldPlace, colText},
			{types.FieldInviteds, colJSON},
			{types.FieldDue, colText},
			{types.FieldDetails, colText},
		},
	},
}

// linkDef stores one types.Relation. ownerCol holds keys of rel.Table and
// peerCol keys of rel.PeerTable.
type linkDef struct {
	rel      types.Relation
	table    string
	ownerCol string
	peerCol  string
	single   bool
}

// linkTables names the link table of each relation by its owning table.
var linkTables = map[string]linkDef{
	types.TableClubs:    {table: "club_members", ownerCol: "club_id", peerCol: "member_id"},
	types.TableOfficers: {table: "officer_members", ownerCol: "officer_id", peerCol: "member_id", single: true},
	types.TableMails:    {table: "mail_recipients", ownerCol: "mail_subject", peerCol: "member_id"},
	types.TableParties:  {table: "party_attendances", ownerCol: "party_name", peerCol: "member_id"},
}

// linkDefs pairs every standard relation with its link table.
var linkDefs = buildLinkDefs(types.StandardRelations)

func buildLinkDefs(rels []types.Relation) []linkDef {
	defs := make([]linkDef, 0, len(rels))
	for _, rel := range rels {
		def, ok := linkTables[rel.Table]
		if !ok {
			panic(fmt.Sprintf("sqlite: no link table for relation %s.%s", rel.Table, rel.Field))
		}
		def.rel = rel
		defs = append(defs, def)
	}
	return defs
}

// linkSide is a link table seen from one of its tables.
type linkSide struct {
	link    linkDef
	field   string // relation field on this side
	selfCol string // column holding this side's key
	peerCol string // column holding the other side's key
	peer    string // the other side's table
}

// valued reports whether edges carry an attendance flag.
func (s linkSide) valued() bool { return s.link.rel.Valued }

// sidesOf returns every link table touching table, keyed by relation field.
func sidesOf(table string) map[string]linkSide {
	sides := make(map[string]linkSide)
	for _, l := range linkDefs {
		if l.rel.Table == table {
			sides[l.rel.Field] = linkSide{link: l, field: l.rel.Field, selfCol: l.ownerCol, peerCol: l.peerCol, peer: l.rel.PeerTable}
		}
		if l.rel.PeerTable == table {
			sides[l.rel.PeerField] = linkSide{link: l, field: l.rel.PeerField, selfCol: l.peerCol, peerCol: l.ownerCol, peer: l.rel.Table}
		}
	}
	return sides
}
