package testutil

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
	"github.com/trezcool/studenthub/core/user"
)

// NopLogger discards everything; keeps test output clean.
type NopLogger struct{}

var _ core.Logger = (*NopLogger)(nil)

func (NopLogger) Enable(bool)                  {}
func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// NewConfig returns a config suitable for tests; no env lookups.
func NewConfig() *core.Config {
	conf := &core.Config{
		Debug:                     true,
		TestMode:                  true,
		Env:                       "test",
		AppName:                   "Student Hub",
		SecretKey:                 "secret",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		FrontendBaseURL:           "http://localhost:8080",
		DefaultFromEmail:          mail.Address{Name: "Student Hub", Address: "noreply@studenthub.test"},
	}
	conf.Server.JWTExpirationDelta = 7 * 24 * time.Hour
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.WorkDir = core.Getwd()
	return conf
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateForm(
	t *testing.T,
	repo form.Repository,
	ownerID, title string,
	fields []form.Field,
	visibleFrom, visibleUntil *time.Time,
) form.Form {
	t.Helper()

	now := time.Now().UTC()
	frm := form.Form{
		OwnerID:      ownerID,
		Title:        title,
		Fields:       fields,
		VisibleFrom:  visibleFrom,
		VisibleUntil: visibleUntil,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	frm.SetActive(true)
	frm, err := repo.CreateForm(context.Background(), frm)
	if err != nil {
		t.Fatalf("CreateForm() failed: %v", err)
	}
	return frm
}

func CreateSubmission(
	t *testing.T,
	repo form.Repository,
	formID, studentID string,
	data []form.FieldValue,
) form.Submission {
	t.Helper()

	sub := form.Submission{
		FormID:      formID,
		StudentID:   studentID,
		Data:        data,
		SubmittedAt: time.Now().UTC(),
	}
	sub, err := repo.CreateSubmission(context.Background(), sub)
	if err != nil {
		t.Fatalf("CreateSubmission() failed: %v", err)
	}
	return sub
}
