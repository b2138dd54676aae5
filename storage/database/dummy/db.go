package dummydb

import (
	"sync"

	"github.com/trezcool/studenthub/core/form"
	"github.com/trezcool/studenthub/core/user"
)

type (
	DB struct {
		user       *userTable
		form       *formTable
		submission *submissionTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	formTable struct {
		sync.RWMutex
		table map[string]*form.Form
	}

	submissionTable struct {
		sync.RWMutex
		table map[string]*form.Submission // keyed on formID + "/" + studentID
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		form:       &formTable{table: make(map[string]*form.Form)},
		submission: &submissionTable{table: make(map[string]*form.Submission)},
	}
	return db, nil
}
