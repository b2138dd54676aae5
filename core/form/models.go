package form

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/studenthub/core"
)

// FieldType is the closed set of input types a form field may take.
// The string values are part of the persisted representation and of the
// API contract; they must round-trip exactly.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeFile     FieldType = "file"
)

var AllFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeEmail,
	FieldTypeNumber,
	FieldTypeDate,
	FieldTypeSelect,
	FieldTypeTextarea,
	FieldTypeFile,
}

// Field is one entry of a form's schema. Order within Form.Fields is
// meaningful (rendering order) and preserved across edits.
type Field struct {
	Label    string    `json:"label" validate:"required"`
	Type     FieldType `json:"type" validate:"required,fieldtype"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"` // select only
}

func (f Field) HasOption(opt string) bool {
	for _, o := range f.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// Form is the schema/template a staff account authors: title, ordered
// fields and an optional visibility window.
type Form struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Fields       []Field    `json:"fields"`
	VisibleFrom  *time.Time `json:"visible_from,omitempty"`  // UTC
	VisibleUntil *time.Time `json:"visible_until,omitempty"` // UTC
	IsActive     *bool      `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updated_at"` // UTC
}

func (f *Form) SetActive(active bool) {
	f.IsActive = &active
}

func (f *Form) FieldByLabel(label string) (Field, bool) {
	for _, fld := range f.Fields {
		if fld.Label == label {
			return fld, true
		}
	}
	return Field{}, false
}

// FieldValue is one answered field of a submission: a tagged union over
// FieldType with a typed value per variant.
type FieldValue struct {
	Label string    `json:"label" validate:"required"`
	Type  FieldType `json:"type" validate:"required,fieldtype"`

	Text    string     `json:"text,omitempty"`     // text, email, textarea
	Number  *float64   `json:"number,omitempty"`   // number
	Date    *time.Time `json:"date,omitempty"`     // date
	Option  string     `json:"option,omitempty"`   // select; one of the field's options
	FileRef string     `json:"file_ref,omitempty"` // file; opaque storage reference
}

// IsZero reports whether the variant value for the declared type is absent.
func (v FieldValue) IsZero() bool {
	switch v.Type {
	case FieldTypeNumber:
		return v.Number == nil
	case FieldTypeDate:
		return v.Date == nil
	case FieldTypeSelect:
		return v.Option == ""
	case FieldTypeFile:
		return v.FileRef == ""
	default:
		return v.Text == ""
	}
}

// Display renders the value for exports and review screens.
func (v FieldValue) Display() string {
	switch v.Type {
	case FieldTypeNumber:
		if v.Number == nil {
			return ""
		}
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case FieldTypeDate:
		if v.Date == nil {
			return ""
		}
		return v.Date.UTC().Format(time.RFC3339)
	case FieldTypeSelect:
		return v.Option
	case FieldTypeFile:
		return v.FileRef
	default:
		return v.Text
	}
}

// Submission is one student's filled-in answer to a Form. It is created
// exactly once per (form, student) pair and is immutable afterwards.
type Submission struct {
	ID          string       `json:"id"`
	FormID      string       `json:"form_id"`
	StudentID   string       `json:"student_id"`
	Data        []FieldValue `json:"data"`
	SubmittedAt time.Time    `json:"submitted_at"` // UTC

	// resolved via the user directory for review views; not persisted
	StudentName  string `json:"student_name,omitempty"`
	StudentEmail string `json:"student_email,omitempty"`
}

// NewForm contains information needed to create a new Form.
type NewForm struct {
	Title        string     `json:"title" validate:"required"`
	Description  string     `json:"description"`
	Fields       []Field    `json:"fields" validate:"required,min=1,dive"`
	VisibleFrom  *time.Time `json:"visible_from"`
	VisibleUntil *time.Time `json:"visible_until"`
}

func (nf *NewForm) Validate(validate *validator.Validate) error {
	nf.Title = core.CleanString(nf.Title)
	nf.Description = core.CleanString(nf.Description)
	return validate.Struct(nf)
}

// UpdateForm defines a full replacement of an existing Form's schema;
// the whole fields sequence is resent on every update.
type UpdateForm struct {
	Title        string     `json:"title" validate:"required"`
	Description  string     `json:"description"`
	Fields       []Field    `json:"fields" validate:"required,min=1,dive"`
	VisibleFrom  *time.Time `json:"visible_from"`
	VisibleUntil *time.Time `json:"visible_until"`
	IsActive     *bool      `json:"is_active"`
}

func (uf *UpdateForm) Validate(validate *validator.Validate) error {
	uf.Title = core.CleanString(uf.Title)
	uf.Description = core.CleanString(uf.Description)
	return validate.Struct(uf)
}

// NewSubmission carries a student's answers on submit.
type NewSubmission struct {
	Data []FieldValue `json:"data" validate:"required,min=1,dive"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	for i := range ns.Data {
		ns.Data[i].Label = core.CleanString(ns.Data[i].Label)
	}
	return validate.Struct(ns)
}

// QueryFilter narrows a form listing.
type QueryFilter struct {
	OwnerID  string `query:"owner"`
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.OwnerID == "" && qf.Search == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
