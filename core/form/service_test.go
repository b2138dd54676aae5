package form_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
	"github.com/trezcool/studenthub/core/user"
	emailsvc "github.com/trezcool/studenthub/services/email"
	dummydb "github.com/trezcool/studenthub/storage/database/dummy"
	testutil "github.com/trezcool/studenthub/tests"
)

type testEnv struct {
	frmRepo form.Repository
	usrRepo user.Repository
	frmSvc  form.Service

	owner   user.User
	student user.User
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	conf := testutil.NewConfig()
	usrRepo := dummydb.NewUserRepository(db)
	frmRepo := dummydb.NewFormRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)

	env := &testEnv{
		frmRepo: frmRepo,
		usrRepo: usrRepo,
		frmSvc:  form.NewService(frmRepo, usrSvc, mailSvc, conf),
	}
	env.owner = testutil.CreateUser(t, usrRepo, "Prof Awesome", "prof", "prof@studenthub.test", "", []string{user.RoleFaculty}, true)
	env.student = testutil.CreateUser(t, usrRepo, "Jane Doe", "jane", "jane@studenthub.test", "", []string{user.RoleStudent}, true)
	return env
}

func surveyFields() []form.Field {
	return []form.Field{
		{Label: "full_name", Type: form.FieldTypeText, Required: true},
		{Label: "contact_email", Type: form.FieldTypeEmail, Required: true},
		{Label: "year", Type: form.FieldTypeSelect, Required: true, Options: []string{"1", "2", "3", "4"}},
		{Label: "comments", Type: form.FieldTypeTextarea},
	}
}

func surveyData() []form.FieldValue {
	return []form.FieldValue{
		{Label: "full_name", Type: form.FieldTypeText, Text: "Jane Doe"},
		{Label: "contact_email", Type: form.FieldTypeEmail, Text: "jane@studenthub.test"},
		{Label: "year", Type: form.FieldTypeSelect, Option: "2"},
	}
}

func TestServiceCreate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	if _, err := env.frmSvc.Create(ctx, env.student, form.NewForm{Title: "Nope", Fields: surveyFields()}); errors.Cause(err) != form.ErrAccessDenied {
		t.Errorf("Create() by student: err = %v; expected %v", err, form.ErrAccessDenied)
	}

	frm, err := env.frmSvc.Create(ctx, env.owner, form.NewForm{Title: "Course Survey", Fields: surveyFields()})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if frm.ID == "" {
		t.Error("Create() did not assign an ID")
	}
	if frm.OwnerID != env.owner.ID {
		t.Errorf("OwnerID = %q; expected %q", frm.OwnerID, env.owner.ID)
	}
	if frm.IsActive == nil || !*frm.IsActive {
		t.Error("expected new form to be active")
	}
}

func TestServiceFieldOrderPreserved(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	fields := surveyFields()
	frm, err := env.frmSvc.Create(ctx, env.owner, form.NewForm{Title: "Course Survey", Fields: fields})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// full-document update with the same field sequence
	frm, err = env.frmSvc.Update(ctx, env.owner, frm.ID, form.UpdateForm{Title: "Course Survey v2", Fields: fields})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := env.frmSvc.GetByID(ctx, frm.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if len(got.Fields) != len(fields) {
		t.Fatalf("len(Fields) = %d; expected %d", len(got.Fields), len(fields))
	}
	for i, fld := range fields {
		if got.Fields[i].Label != fld.Label {
			t.Errorf("Fields[%d].Label = %q; expected %q", i, got.Fields[i].Label, fld.Label)
		}
	}
}

func TestServiceUpdateDeleteOwnership(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	otherStaff := testutil.CreateUser(t, env.usrRepo, "Dr Other", "other", "other@studenthub.test", "", []string{user.RoleFaculty}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Root", "root", "root@studenthub.test", "", []string{user.RoleAdmin}, true)

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)

	if _, err := env.frmSvc.Update(ctx, otherStaff, frm.ID, form.UpdateForm{Title: "Hijacked", Fields: surveyFields()}); errors.Cause(err) != form.ErrNotOwner {
		t.Errorf("Update() by non-owner: err = %v; expected %v", err, form.ErrNotOwner)
	}
	if err := env.frmSvc.Delete(ctx, otherStaff, frm.ID); errors.Cause(err) != form.ErrNotOwner {
		t.Errorf("Delete() by non-owner: err = %v; expected %v", err, form.ErrNotOwner)
	}

	// admins may act on any form
	if _, err := env.frmSvc.Update(ctx, admin, frm.ID, form.UpdateForm{Title: "Renamed", Fields: surveyFields()}); err != nil {
		t.Errorf("Update() by admin failed: %v", err)
	}

	// deletion is blocked once a submission exists
	testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())
	if err := env.frmSvc.Delete(ctx, env.owner, frm.ID); errors.Cause(err) != form.ErrHasSubmissions {
		t.Errorf("Delete() with submissions: err = %v; expected %v", err, form.ErrHasSubmissions)
	}

	frm2 := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Empty Survey", surveyFields(), nil, nil)
	if err := env.frmSvc.Delete(ctx, env.owner, frm2.ID); err != nil {
		t.Errorf("Delete() failed: %v", err)
	}
	if _, err := env.frmSvc.GetByID(ctx, frm2.ID); errors.Cause(err) != form.ErrNotFound {
		t.Errorf("GetByID() after delete: err = %v; expected %v", err, form.ErrNotFound)
	}
}

func TestServiceSubmit(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)

	t.Run("staff cannot submit", func(t *testing.T) {
		if _, err := env.frmSvc.Submit(ctx, env.owner, frm.ID, form.NewSubmission{Data: surveyData()}); errors.Cause(err) != form.ErrAccessDenied {
			t.Errorf("err = %v; expected %v", err, form.ErrAccessDenied)
		}
	})

	t.Run("unknown form", func(t *testing.T) {
		if _, err := env.frmSvc.Submit(ctx, env.student, "cafebabe-dead-beef-cafe-babedeadbeef", form.NewSubmission{Data: surveyData()}); errors.Cause(err) != form.ErrNotFound {
			t.Errorf("err = %v; expected %v", err, form.ErrNotFound)
		}
	})

	t.Run("invalid data", func(t *testing.T) {
		data := []form.FieldValue{
			{Label: "full_name", Type: form.FieldTypeText}, // required but empty
			{Label: "contact_email", Type: form.FieldTypeText, Text: "jane@studenthub.test"}, // wrong type
			{Label: "year", Type: form.FieldTypeSelect, Option: "9"},                         // not an option
			{Label: "bogus", Type: form.FieldTypeText, Text: "x"},                            // unknown field
		}
		_, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: data})
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		if !ok {
			t.Fatalf("err = %v; expected a ValidationError", err)
		}
		wantFields := map[string]bool{"full_name": true, "contact_email": true, "year": true, "bogus": true}
		for _, fldErr := range vErr.Fields {
			delete(wantFields, fldErr.Field)
		}
		for fld := range wantFields {
			t.Errorf("expected a field error for %q", fld)
		}
	})

	t.Run("ok", func(t *testing.T) {
		emailsvc.ClearSentMessages()

		sub, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()})
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if sub.ID == "" {
			t.Error("Submit() did not assign an ID")
		}
		if sub.StudentID != env.student.ID {
			t.Errorf("StudentID = %q; expected %q", sub.StudentID, env.student.ID)
		}
		// answers come back in schema order
		wantOrder := []string{"full_name", "contact_email", "year"}
		for i, label := range wantOrder {
			if sub.Data[i].Label != label {
				t.Errorf("Data[%d].Label = %q; expected %q", i, sub.Data[i].Label, label)
			}
		}
		if len(emailsvc.SentMessages) != 1 {
			t.Errorf("len(SentMessages) = %d; expected 1", len(emailsvc.SentMessages))
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		if _, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()}); errors.Cause(err) != form.ErrAlreadySubmitted {
			t.Errorf("err = %v; expected %v", err, form.ErrAlreadySubmitted)
		}
	})
}

func TestServiceSubmitWindow(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-24 * time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	t.Run("not started", func(t *testing.T) {
		frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Future Survey", surveyFields(), &future, nil)
		_, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()})
		naErr, ok := errors.Cause(err).(*form.NotAvailableError)
		if !ok {
			t.Fatalf("err = %v; expected a NotAvailableError", err)
		}
		if naErr.Eligibility.State != form.EligibilityNotStarted {
			t.Errorf("State = %q; expected %q", naErr.Eligibility.State, form.EligibilityNotStarted)
		}
	})

	t.Run("expired", func(t *testing.T) {
		frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Past Survey", surveyFields(), nil, &past)
		_, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()})
		naErr, ok := errors.Cause(err).(*form.NotAvailableError)
		if !ok {
			t.Fatalf("err = %v; expected a NotAvailableError", err)
		}
		if naErr.Eligibility.State != form.EligibilityExpired {
			t.Errorf("State = %q; expected %q", naErr.Eligibility.State, form.EligibilityExpired)
		}
	})

	t.Run("duplicate wins over expired", func(t *testing.T) {
		frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Submitted Past Survey", surveyFields(), nil, &past)
		testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())
		if _, err := env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()}); errors.Cause(err) != form.ErrAlreadySubmitted {
			t.Errorf("err = %v; expected %v", err, form.ErrAlreadySubmitted)
		}
	})
}

func TestServiceSubmitConcurrent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.frmSvc.Submit(ctx, env.student, frm.ID, form.NewSubmission{Data: surveyData()})
		}(i)
	}
	wg.Wait()

	var okCount int
	for _, err := range errs {
		switch errors.Cause(err) {
		case nil:
			okCount++
		case form.ErrAlreadySubmitted:
		default:
			t.Errorf("unexpected err: %v", err)
		}
	}
	if okCount != 1 {
		t.Errorf("okCount = %d; expected exactly 1 winning submission", okCount)
	}
}

func TestServiceEligibility(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)

	elig, err := env.frmSvc.Eligibility(ctx, env.student, frm.ID, now)
	if err != nil {
		t.Fatalf("Eligibility() failed: %v", err)
	}
	if !elig.Available() {
		t.Errorf("State = %q; expected %q", elig.State, form.EligibilityAvailable)
	}

	testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())
	elig, err = env.frmSvc.Eligibility(ctx, env.student, frm.ID, now)
	if err != nil {
		t.Fatalf("Eligibility() failed: %v", err)
	}
	if elig.State != form.EligibilityAlreadySubmitted {
		t.Errorf("State = %q; expected %q", elig.State, form.EligibilityAlreadySubmitted)
	}

	if _, err = env.frmSvc.Eligibility(ctx, env.student, "cafebabe-dead-beef-cafe-babedeadbeef", now); errors.Cause(err) != form.ErrNotFound {
		t.Errorf("err = %v; expected %v", err, form.ErrNotFound)
	}
}

func TestServiceGetSubmission(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	otherStudent := testutil.CreateUser(t, env.usrRepo, "John Roe", "john", "john@studenthub.test", "", []string{user.RoleStudent}, true)
	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)
	sub := testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())

	got, err := env.frmSvc.GetSubmission(ctx, env.student, frm.ID, env.student.ID)
	if err != nil {
		t.Fatalf("GetSubmission() failed: %v", err)
	}
	if got.ID != sub.ID {
		t.Errorf("ID = %q; expected %q", got.ID, sub.ID)
	}

	// re-reading does not change anything
	again, err := env.frmSvc.GetSubmission(ctx, env.student, frm.ID, env.student.ID)
	if err != nil {
		t.Fatalf("GetSubmission() failed: %v", err)
	}
	if again.ID != got.ID || !again.SubmittedAt.Equal(got.SubmittedAt) {
		t.Error("expected identical submission on re-read")
	}

	if _, err = env.frmSvc.GetSubmission(ctx, otherStudent, frm.ID, env.student.ID); errors.Cause(err) != form.ErrNotOwner {
		t.Errorf("err = %v; expected %v", err, form.ErrNotOwner)
	}
	if _, err = env.frmSvc.GetSubmission(ctx, env.owner, frm.ID, otherStudent.ID); errors.Cause(err) != form.ErrSubmissionNotFound {
		t.Errorf("err = %v; expected %v", err, form.ErrSubmissionNotFound)
	}
}

func TestServiceQuerySubmissions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)
	testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())

	if _, err := env.frmSvc.QuerySubmissions(ctx, env.student, frm.ID); errors.Cause(err) != form.ErrNotOwner {
		t.Errorf("QuerySubmissions() by student: err = %v; expected %v", err, form.ErrNotOwner)
	}

	subs, err := env.frmSvc.QuerySubmissions(ctx, env.owner, frm.ID)
	if err != nil {
		t.Fatalf("QuerySubmissions() failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d; expected 1", len(subs))
	}
	if subs[0].StudentName != env.student.Name || subs[0].StudentEmail != env.student.Email {
		t.Errorf("student not resolved: %q %q", subs[0].StudentName, subs[0].StudentEmail)
	}
}

func TestServiceExportSubmissionsCSV(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	frm := testutil.CreateForm(t, env.frmRepo, env.owner.ID, "Course Survey", surveyFields(), nil, nil)
	testutil.CreateSubmission(t, env.frmRepo, frm.ID, env.student.ID, surveyData())

	var buf bytes.Buffer
	if err := env.frmSvc.ExportSubmissionsCSV(ctx, env.owner, frm.ID, &buf); err != nil {
		t.Fatalf("ExportSubmissionsCSV() failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d; expected 2\n%s", len(lines), buf.String())
	}
	wantHeader := "Student,Email,Submitted At,full_name,contact_email,year,comments"
	if lines[0] != wantHeader {
		t.Errorf("header = %q; expected %q", lines[0], wantHeader)
	}
	for _, want := range []string{env.student.Name, env.student.Email, "Jane Doe", "2"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}

	if err := env.frmSvc.ExportSubmissionsCSV(ctx, env.student, frm.ID, &buf); errors.Cause(err) != form.ErrNotOwner {
		t.Errorf("export by student: err = %v; expected %v", err, form.ErrNotOwner)
	}
}
