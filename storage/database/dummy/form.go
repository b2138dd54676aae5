package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
)

type formRepository struct {
	db    *formTable
	subDB *submissionTable
}

var _ form.Repository = (*formRepository)(nil) // interface compliance check

func NewFormRepository(db *DB) form.Repository {
	return &formRepository{db: db.form, subDB: db.submission}
}

func (repo *formRepository) query() []form.Form {
	forms := make([]form.Form, 0, len(repo.db.table))
	for _, f := range repo.db.table {
		forms = append(forms, *f)
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].CreatedAt.Before(forms[j].CreatedAt) })
	return forms
}

func (repo *formRepository) CreateForm(_ context.Context, frm form.Form) (form.Form, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	frm.ID = uuid.New().String()
	repo.db.table[frm.ID] = &frm
	return frm, nil
}

func (repo *formRepository) QueryForms(_ context.Context, filter *form.QueryFilter, ordering []core.DBOrdering) ([]form.Form, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	forms := repo.query()
	if filter == nil || filter.IsEmpty() {
		return applyFormOrdering(forms, ordering), nil
	}

	var filtered []form.Form
	for _, frm := range forms {
		if filter.OwnerID != "" && frm.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Search != "" {
			search := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(frm.Title), search) &&
				!strings.Contains(strings.ToLower(frm.Description), search) {
				continue
			}
		}
		if filter.IsActive != nil && (frm.IsActive == nil || *frm.IsActive != *filter.IsActive) {
			continue
		}
		filtered = append(filtered, frm)
	}
	return applyFormOrdering(filtered, ordering), nil
}

func (repo *formRepository) GetForm(_ context.Context, id string) (form.Form, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if frm, ok := repo.db.table[id]; ok {
		return *frm, nil
	}
	return form.Form{}, form.ErrNotFound
}

func (repo *formRepository) UpdateForm(_ context.Context, frm form.Form) (form.Form, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[frm.ID]; !ok {
		return form.Form{}, form.ErrNotFound
	}
	frm.UpdatedAt = time.Now().UTC()
	repo.db.table[frm.ID] = &frm
	return frm, nil
}

func (repo *formRepository) DeleteForm(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.table, id)
	return nil
}

func subKey(formID, studentID string) string {
	return formID + "/" + studentID
}

// CreateSubmission checks for a duplicate under the table lock so that
// concurrent attempts resolve to exactly one winner.
func (repo *formRepository) CreateSubmission(_ context.Context, sub form.Submission) (form.Submission, error) {
	repo.subDB.Lock()
	defer repo.subDB.Unlock()

	key := subKey(sub.FormID, sub.StudentID)
	if _, ok := repo.subDB.table[key]; ok {
		return form.Submission{}, form.ErrAlreadySubmitted
	}
	sub.ID = uuid.New().String()
	repo.subDB.table[key] = &sub
	return sub, nil
}

func (repo *formRepository) GetSubmission(_ context.Context, formID, studentID string) (form.Submission, error) {
	repo.subDB.RLock()
	defer repo.subDB.RUnlock()

	if sub, ok := repo.subDB.table[subKey(formID, studentID)]; ok {
		return *sub, nil
	}
	return form.Submission{}, form.ErrSubmissionNotFound
}

func (repo *formRepository) QuerySubmissions(_ context.Context, formID string) ([]form.Submission, error) {
	repo.subDB.RLock()
	defer repo.subDB.RUnlock()

	var subs []form.Submission
	for _, sub := range repo.subDB.table {
		if sub.FormID == formID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	return subs, nil
}

func (repo *formRepository) CountSubmissions(_ context.Context, formID string) (int, error) {
	repo.subDB.RLock()
	defer repo.subDB.RUnlock()

	var cnt int
	for _, sub := range repo.subDB.table {
		if sub.FormID == formID {
			cnt++
		}
	}
	return cnt, nil
}

func applyFormOrdering(forms []form.Form, ordering []core.DBOrdering) []form.Form {
	for _, ord := range ordering {
		if ord.Field == "created_at" && !ord.Ascending {
			sort.Slice(forms, func(i, j int) bool { return forms[i].CreatedAt.After(forms[j].CreatedAt) })
		}
	}
	return forms
}
