package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
)

type dbForm struct {
	ID           string         `db:"id"`
	OwnerID      string         `db:"owner_id"`
	Title        string         `db:"title"`
	Description  string         `db:"description"`
	Fields       types.JSONText `db:"fields"`
	VisibleFrom  null.Time      `db:"visible_from"`
	VisibleUntil null.Time      `db:"visible_until"`
	IsActive     bool           `db:"is_active"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (df dbForm) toForm() (form.Form, error) {
	frm := form.Form{
		ID:          df.ID,
		OwnerID:     df.OwnerID,
		Title:       df.Title,
		Description: df.Description,
		CreatedAt:   df.CreatedAt,
		UpdatedAt:   df.UpdatedAt,
	}
	frm.SetActive(df.IsActive)
	if df.VisibleFrom.Valid {
		frm.VisibleFrom = &df.VisibleFrom.Time
	}
	if df.VisibleUntil.Valid {
		frm.VisibleUntil = &df.VisibleUntil.Time
	}
	if err := json.Unmarshal(df.Fields, &frm.Fields); err != nil {
		return form.Form{}, errors.Wrap(err, "decoding form fields")
	}
	return frm, nil
}

func newDBForm(frm form.Form) (dbForm, error) {
	flds, err := json.Marshal(frm.Fields)
	if err != nil {
		return dbForm{}, errors.Wrap(err, "encoding form fields")
	}
	df := dbForm{
		ID:          frm.ID,
		OwnerID:     frm.OwnerID,
		Title:       frm.Title,
		Description: frm.Description,
		Fields:      flds,
		CreatedAt:   frm.CreatedAt,
		UpdatedAt:   frm.UpdatedAt,
	}
	if frm.VisibleFrom != nil {
		df.VisibleFrom = null.TimeFrom(*frm.VisibleFrom)
	}
	if frm.VisibleUntil != nil {
		df.VisibleUntil = null.TimeFrom(*frm.VisibleUntil)
	}
	if frm.IsActive != nil {
		df.IsActive = *frm.IsActive
	}
	return df, nil
}

type dbSubmission struct {
	ID          string         `db:"id"`
	FormID      string         `db:"form_id"`
	StudentID   string         `db:"student_id"`
	Data        types.JSONText `db:"data"`
	SubmittedAt time.Time      `db:"submitted_at"`
}

func (ds dbSubmission) toSubmission() (form.Submission, error) {
	sub := form.Submission{
		ID:          ds.ID,
		FormID:      ds.FormID,
		StudentID:   ds.StudentID,
		SubmittedAt: ds.SubmittedAt,
	}
	if err := json.Unmarshal(ds.Data, &sub.Data); err != nil {
		return form.Submission{}, errors.Wrap(err, "decoding submission data")
	}
	return sub, nil
}

type formRepository struct {
	db *sqlx.DB
}

var _ form.Repository = (*formRepository)(nil) // interface compliance check

func NewFormRepository(db *sqlx.DB) form.Repository {
	return &formRepository{db: db}
}

func (repo *formRepository) CreateForm(ctx context.Context, frm form.Form) (form.Form, error) {
	frm.ID = uuid.New().String()
	df, err := newDBForm(frm)
	if err != nil {
		return form.Form{}, err
	}
	q := `
	INSERT INTO form (id, owner_id, title, description, fields, visible_from, visible_until, is_active, created_at, updated_at)
	VALUES (:id, :owner_id, :title, :description, :fields, :visible_from, :visible_until, :is_active, :created_at, :updated_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, df); err != nil {
		return form.Form{}, errors.Wrap(err, "creating form")
	}
	return frm, nil
}

func (repo *formRepository) QueryForms(ctx context.Context, filter *form.QueryFilter, ordering []core.DBOrdering) ([]form.Form, error) {
	q := `SELECT * FROM form`
	var args []interface{}
	var conds []string

	if filter != nil && !filter.IsEmpty() {
		if filter.OwnerID != "" {
			args = append(args, filter.OwnerID)
			conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
		}
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			p := fmt.Sprintf("$%d", len(args))
			conds = append(conds, fmt.Sprintf("(title ILIKE %[1]s OR description ILIKE %[1]s)", p))
		}
		if filter.IsActive != nil {
			args = append(args, *filter.IsActive)
			conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderingClause(ordering, "created_at ASC")

	var dfs []dbForm
	if err := repo.db.SelectContext(ctx, &dfs, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying forms")
	}
	forms := make([]form.Form, len(dfs))
	for i, df := range dfs {
		frm, err := df.toForm()
		if err != nil {
			return nil, err
		}
		forms[i] = frm
	}
	return forms, nil
}

func (repo *formRepository) GetForm(ctx context.Context, id string) (form.Form, error) {
	var df dbForm
	if err := repo.db.GetContext(ctx, &df, `SELECT * FROM form WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return form.Form{}, form.ErrNotFound
		}
		return form.Form{}, errors.Wrap(err, "getting form")
	}
	return df.toForm()
}

func (repo *formRepository) UpdateForm(ctx context.Context, frm form.Form) (form.Form, error) {
	df, err := newDBForm(frm)
	if err != nil {
		return form.Form{}, err
	}
	q := `
	UPDATE form
	SET title = :title, description = :description, fields = :fields, visible_from = :visible_from,
	    visible_until = :visible_until, is_active = :is_active, updated_at = :updated_at
	WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, df)
	if err != nil {
		return form.Form{}, errors.Wrap(err, "updating form")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return form.Form{}, form.ErrNotFound
	}
	return frm, nil
}

func (repo *formRepository) DeleteForm(ctx context.Context, id string) error {
	_, err := repo.db.ExecContext(ctx, `DELETE FROM form WHERE id = $1`, id)
	return errors.Wrap(err, "deleting form")
}

// CreateSubmission relies on the unique (form_id, student_id) index for
// atomic duplicate rejection; concurrent losers get ErrAlreadySubmitted.
func (repo *formRepository) CreateSubmission(ctx context.Context, sub form.Submission) (form.Submission, error) {
	sub.ID = uuid.New().String()
	data, err := json.Marshal(sub.Data)
	if err != nil {
		return form.Submission{}, errors.Wrap(err, "encoding submission data")
	}
	ds := dbSubmission{
		ID:          sub.ID,
		FormID:      sub.FormID,
		StudentID:   sub.StudentID,
		Data:        data,
		SubmittedAt: sub.SubmittedAt,
	}
	q := `
	INSERT INTO submission (id, form_id, student_id, data, submitted_at)
	VALUES (:id, :form_id, :student_id, :data, :submitted_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, ds); err != nil {
		if isUniqueViolation(err) {
			return form.Submission{}, form.ErrAlreadySubmitted
		}
		return form.Submission{}, errors.Wrap(err, "creating submission")
	}
	return sub, nil
}

func (repo *formRepository) GetSubmission(ctx context.Context, formID, studentID string) (form.Submission, error) {
	var ds dbSubmission
	q := `SELECT * FROM submission WHERE form_id = $1 AND student_id = $2`
	if err := repo.db.GetContext(ctx, &ds, q, formID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return form.Submission{}, form.ErrSubmissionNotFound
		}
		return form.Submission{}, errors.Wrap(err, "getting submission")
	}
	return ds.toSubmission()
}

func (repo *formRepository) QuerySubmissions(ctx context.Context, formID string) ([]form.Submission, error) {
	var dss []dbSubmission
	q := `SELECT * FROM submission WHERE form_id = $1 ORDER BY submitted_at ASC`
	if err := repo.db.SelectContext(ctx, &dss, q, formID); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]form.Submission, len(dss))
	for i, ds := range dss {
		sub, err := ds.toSubmission()
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}
	return subs, nil
}

func (repo *formRepository) CountSubmissions(ctx context.Context, formID string) (int, error) {
	var cnt int
	err := repo.db.GetContext(ctx, &cnt, `SELECT COUNT(*) FROM submission WHERE form_id = $1`, formID)
	return cnt, errors.Wrap(err, "counting submissions")
}
