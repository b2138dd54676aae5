package form

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("form not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadySubmitted   = errors.New("form already submitted")
	ErrAccessDenied       = errors.New("permission denied")
	ErrNotOwner           = errors.New("not the form owner")
	ErrHasSubmissions     = errors.New("form has existing submissions")
)

// NotAvailableError is returned on a submission attempt outside the
// form's visibility window; it carries the boundary timestamp.
type NotAvailableError struct {
	Eligibility Eligibility
}

func (e *NotAvailableError) Error() string {
	switch e.Eligibility.State {
	case EligibilityNotStarted:
		return fmt.Sprintf("form not yet available; opens %s", fmtTime(e.Eligibility.AvailableFrom))
	case EligibilityExpired:
		return fmt.Sprintf("form no longer available; expired %s", fmtTime(e.Eligibility.ExpiredAt))
	}
	return "form not available"
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type (
	Repository interface {
		CreateForm(ctx context.Context, frm Form) (Form, error)
		// QueryForms applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Form.Title or Form.Description.
		QueryForms(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Form, error)
		GetForm(ctx context.Context, id string) (Form, error)
		UpdateForm(ctx context.Context, frm Form) (Form, error)
		DeleteForm(ctx context.Context, id string) error

		// CreateSubmission must enforce the (formID, studentID) uniqueness
		// atomically and return ErrAlreadySubmitted on a duplicate.
		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, formID, studentID string) (Submission, error)
		QuerySubmissions(ctx context.Context, formID string) ([]Submission, error)
		CountSubmissions(ctx context.Context, formID string) (int, error)
	}

	Service interface {
		Create(ctx context.Context, owner user.User, nf NewForm) (Form, error)
		Query(ctx context.Context, caller user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Form, error)
		GetByID(ctx context.Context, id string) (Form, error)
		Update(ctx context.Context, caller user.User, id string, uf UpdateForm) (Form, error)
		Delete(ctx context.Context, caller user.User, id string) error

		Eligibility(ctx context.Context, student user.User, formID string, now time.Time) (Eligibility, error)
		Submit(ctx context.Context, student user.User, formID string, ns NewSubmission) (Submission, error)
		GetSubmission(ctx context.Context, caller user.User, formID, studentID string) (Submission, error)
		QuerySubmissions(ctx context.Context, caller user.User, formID string) ([]Submission, error)
		ExportSubmissionsCSV(ctx context.Context, caller user.User, formID string, w io.Writer) error
	}

	service struct {
		repo    Repository
		usrSvc  user.Service // user directory: resolves IDs to names/emails
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) Create(ctx context.Context, owner user.User, nf NewForm) (Form, error) {
	if !owner.IsStaff() {
		return Form{}, ErrAccessDenied
	}
	now := time.Now().UTC()
	frm := Form{
		OwnerID:      owner.ID,
		Title:        nf.Title,
		Description:  nf.Description,
		Fields:       nf.Fields,
		VisibleFrom:  utc(nf.VisibleFrom),
		VisibleUntil: utc(nf.VisibleUntil),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	frm.SetActive(true)
	return svc.repo.CreateForm(ctx, frm)
}

func (svc *service) Query(ctx context.Context, caller user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Form, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	// staff see their own forms; admins see all; students see every form:
	// window filtering deliberately stays out of the listing boundary and
	// is evaluated per item via Eligibility.
	if caller.IsStaff() && !caller.IsAdmin() {
		filter.OwnerID = caller.ID
	}
	return svc.repo.QueryForms(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Form, error) {
	return svc.repo.GetForm(ctx, id)
}

func (svc *service) Update(ctx context.Context, caller user.User, id string, uf UpdateForm) (Form, error) {
	frm, err := svc.repo.GetForm(ctx, id)
	if err != nil {
		return Form{}, err
	}
	if err = svc.checkOwner(caller, frm); err != nil {
		return Form{}, err
	}

	// full-document replace: the whole fields sequence is resent
	frm.Title = uf.Title
	frm.Description = uf.Description
	frm.Fields = uf.Fields
	frm.VisibleFrom = utc(uf.VisibleFrom)
	frm.VisibleUntil = utc(uf.VisibleUntil)
	if uf.IsActive != nil {
		frm.IsActive = uf.IsActive
	}
	frm.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateForm(ctx, frm)
}

func (svc *service) Delete(ctx context.Context, caller user.User, id string) error {
	frm, err := svc.repo.GetForm(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.checkOwner(caller, frm); err != nil {
		return err
	}
	cnt, err := svc.repo.CountSubmissions(ctx, id)
	if err != nil {
		return errors.Wrap(err, "counting submissions")
	}
	if cnt > 0 {
		return ErrHasSubmissions
	}
	return svc.repo.DeleteForm(ctx, id)
}

func (svc *service) Eligibility(ctx context.Context, student user.User, formID string, now time.Time) (Eligibility, error) {
	frm, err := svc.repo.GetForm(ctx, formID)
	if err != nil {
		return Eligibility{}, err
	}
	hasSub, err := svc.hasSubmission(ctx, formID, student.ID)
	if err != nil {
		return Eligibility{}, err
	}
	return EvaluateEligibility(frm, now, hasSub), nil
}

// Submit records a student's answers. The precondition order is part of
// the contract since the surfaced errors differ:
// capability, then duplicate, then window, then field values.
func (svc *service) Submit(ctx context.Context, student user.User, formID string, ns NewSubmission) (Submission, error) {
	if !student.IsStudent() {
		return Submission{}, ErrAccessDenied
	}

	frm, err := svc.repo.GetForm(ctx, formID)
	if err != nil {
		return Submission{}, err
	}

	hasSub, err := svc.hasSubmission(ctx, formID, student.ID)
	if err != nil {
		return Submission{}, err
	}
	if hasSub {
		return Submission{}, ErrAlreadySubmitted
	}

	now := time.Now().UTC()
	if elig := EvaluateEligibility(frm, now, false); !elig.Available() {
		return Submission{}, &NotAvailableError{Eligibility: elig}
	}

	data, err := svc.cleanSubmissionData(frm, ns.Data)
	if err != nil {
		return Submission{}, err
	}

	sub := Submission{
		FormID:      frm.ID,
		StudentID:   student.ID,
		Data:        data,
		SubmittedAt: now,
	}
	// the repo enforces (formID, studentID) uniqueness atomically;
	// a lost race surfaces as ErrAlreadySubmitted
	sub, err = svc.repo.CreateSubmission(ctx, sub)
	if err != nil {
		return Submission{}, err
	}

	svc.sendSubmissionReceivedMail(student, frm, sub)
	return sub, nil
}

func (svc *service) GetSubmission(ctx context.Context, caller user.User, formID, studentID string) (Submission, error) {
	frm, err := svc.repo.GetForm(ctx, formID)
	if err != nil {
		return Submission{}, err
	}
	// a student may only read their own entry
	if caller.ID != studentID {
		if err = svc.checkOwner(caller, frm); err != nil {
			return Submission{}, err
		}
	}
	return svc.repo.GetSubmission(ctx, formID, studentID)
}

func (svc *service) QuerySubmissions(ctx context.Context, caller user.User, formID string) ([]Submission, error) {
	frm, err := svc.repo.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err = svc.checkOwner(caller, frm); err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, formID)
	if err != nil {
		return nil, err
	}
	svc.resolveStudents(ctx, subs)
	return subs, nil
}

func (svc *service) ExportSubmissionsCSV(ctx context.Context, caller user.User, formID string, w io.Writer) error {
	frm, err := svc.repo.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	if err = svc.checkOwner(caller, frm); err != nil {
		return err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, formID)
	if err != nil {
		return err
	}
	svc.resolveStudents(ctx, subs)

	cw := csv.NewWriter(w)
	header := []string{"Student", "Email", "Submitted At"}
	for _, fld := range frm.Fields {
		header = append(header, fld.Label)
	}
	if err = cw.Write(header); err != nil {
		return errors.Wrap(err, "writing CSV header")
	}

	for _, sub := range subs {
		row := []string{sub.StudentName, sub.StudentEmail, sub.SubmittedAt.UTC().Format(time.RFC3339)}
		for _, fld := range frm.Fields {
			var cell string
			for _, val := range sub.Data {
				if val.Label == fld.Label {
					cell = val.Display()
					break
				}
			}
			row = append(row, cell)
		}
		if err = cw.Write(row); err != nil {
			return errors.Wrap(err, "writing CSV row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing CSV")
}

func (svc *service) checkOwner(caller user.User, frm Form) error {
	if caller.ID == frm.OwnerID || caller.IsAdmin() {
		return nil
	}
	return ErrNotOwner
}

func (svc *service) hasSubmission(ctx context.Context, formID, studentID string) (bool, error) {
	if _, err := svc.repo.GetSubmission(ctx, formID, studentID); err != nil {
		if errors.Cause(err) == ErrSubmissionNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// cleanSubmissionData checks answers against the form's schema and
// reorders them to the schema's field order. Required fields must carry
// a non-empty value of the declared variant; select answers must be one
// of the field's options. Unknown labels are rejected.
func (svc *service) cleanSubmissionData(frm Form, data []FieldValue) ([]FieldValue, error) {
	var fldErrs []core.FieldError
	byLabel := make(map[string]FieldValue, len(data))

	for _, val := range data {
		fld, ok := frm.FieldByLabel(val.Label)
		if !ok {
			fldErrs = append(fldErrs, core.FieldError{Field: val.Label, Error: "unknown field"})
			continue
		}
		if val.Type != fld.Type {
			fldErrs = append(fldErrs, core.FieldError{Field: val.Label, Error: fmt.Sprintf("expected a %q value", fld.Type)})
			continue
		}
		if fld.Type == FieldTypeSelect && val.Option != "" && !fld.HasOption(val.Option) {
			fldErrs = append(fldErrs, core.FieldError{Field: val.Label, Error: "not one of the available options"})
			continue
		}
		byLabel[val.Label] = val
	}

	cleaned := make([]FieldValue, 0, len(frm.Fields))
	for _, fld := range frm.Fields {
		val, ok := byLabel[fld.Label]
		if fld.Required && (!ok || val.IsZero()) {
			fldErrs = append(fldErrs, core.FieldError{Field: fld.Label, Error: "this field is required"})
			continue
		}
		if ok && !val.IsZero() {
			cleaned = append(cleaned, val)
		}
	}

	if len(fldErrs) > 0 {
		return nil, core.NewValidationError(errors.New("invalid submission data"), fldErrs...)
	}
	return cleaned, nil
}

func (svc *service) resolveStudents(ctx context.Context, subs []Submission) {
	for i, sub := range subs {
		usr, err := svc.usrSvc.GetByID(ctx, sub.StudentID)
		if err != nil {
			continue // leave unresolved; the raw ID is still present
		}
		subs[i].StudentName = usr.Name
		subs[i].StudentEmail = usr.Email
	}
}

func (svc *service) sendSubmissionReceivedMail(student user.User, frm Form, sub Submission) {
	if student.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Submission Received: " + frm.Title,
		TemplateName: "submission-received",
		TemplateData: struct {
			FormTitle   string
			SubmittedAt string
		}{frm.Title, sub.SubmittedAt.Format(time.RFC1123)},
	})
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
