package types

// Key fields.
const (
	FieldID      = "id"
	FieldSubject = "subject"
	FieldName    = "name"
)

// Member fields.
const (
	FieldNickname    = "nickname"
	FieldRealname    = "realname"
	FieldMail        = "mail"
	FieldTel         = "tel"
	FieldAffiliation = "affiliation"
	FieldGender      = "gender"
	FieldEntrance    = "entrance"
	FieldOB          = "ob"
	FieldClubs       = "clubs"
	FieldPositions   = "positions"
	FieldMails       = "mails"
	FieldParties     = "parties"
)

// Club fields.
const (
	FieldChief   = "chief"
	FieldMembers = "members"
)

// Officer fields. FieldName is shared with parties.
const (
	FieldMember = "member"
	FieldScope  = "scope"
)

// Mail fields.
const (
	FieldFrom       = "from"
	FieldTo         = "to"
	FieldBody       = "body"
	FieldDate       = "date"
	FieldRecipients = "recipients"
)

// Party fields.
const (
	FieldCreator     = "creator"
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldPlace       = "place"
	FieldInviteds    = "inviteds"
	FieldDue         = "due"
	FieldDetails     = "details"
	FieldAttendances = "attendances"
)
