package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/trezcool/studenthub/core/user"
	testutil "github.com/trezcool/studenthub/tests"
)

func Test_userApi_login(t *testing.T) {
	usr := testutil.CreateUser(t, usrRepo, "Login User", "loginusr", "loginusr@test.cd", "Str0ngPwd!!", []string{user.RoleStudent}, true)
	inactive := testutil.CreateUser(t, usrRepo, "Gone User", "goneusr", "goneusr@test.cd", "Str0ngPwd!!", []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name: "empty body", body: []byte(`{}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown user", body: marchallObj(t, map[string]string{"username": "lol", "password": "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, map[string]string{"username": usr.Username, "password": "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: marchallObj(t, map[string]string{"username": inactive.Username, "password": "Str0ngPwd!!"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "login with username", body: marchallObj(t, map[string]string{"username": usr.Username, "password": "Str0ngPwd!!"}),
			wantCode: http.StatusOK,
		},
		{
			name: "login with email", body: marchallObj(t, map[string]string{"username": usr.Email, "password": "Str0ngPwd!!"}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	student := testutil.CreateUser(t, usrRepo, "Query Student", "qstudent", "qstudent@test.cd", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Query Admin", "qadmin", "qadmin@test.cd", "", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Admin ok", token: getToken(t, admin), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users", tt.token)
			app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	usr := testutil.CreateUser(t, usrRepo, "Detail User", "dusr", "dusr@test.cd", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, usrRepo, "Other User", "ousr", "ousr@test.cd", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Detail Admin", "dadmin", "dadmin@test.cd", "", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{
			name: "self ok", path: "/v1/users/" + usr.ID, token: getToken(t, usr),
			wantCode: http.StatusOK, wantData: marchallObj(t, usr),
		},
		{
			name: "other user hidden", path: "/v1/users/" + other.ID, token: getToken(t, usr),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "admin sees anyone", path: "/v1/users/" + other.ID, token: getToken(t, admin),
			wantCode: http.StatusOK, wantData: marchallObj(t, other),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_passwordResetFlow(t *testing.T) {
	usr := testutil.CreateUser(t, usrRepo, "Reset User", "rusr", "rusr@test.cd", "OldStr0ngPwd!!", []string{user.RoleStudent}, true)

	// request: unknown emails get the same success response
	for _, email := range []string{usr.Email, "unknown@test.cd"} {
		req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", marchallObj(t, map[string]string{"email": email}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("password-reset(%s) code = %v; wantCode %v", email, rec.Code, http.StatusOK)
		}
	}

	// confirm with a bogus token
	body := marchallObj(t, map[string]string{
		"uid":              "bogus",
		"token":            "bogus",
		"password":         "NewStr0ngPwd!!",
		"password_confirm": "NewStr0ngPwd!!",
	})
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset-confirm", body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("password-reset-confirm code = %v; wantCode %v", rec.Code, http.StatusBadRequest)
	}

	// password unchanged
	refreshed, err := usrSvc.GetByID(context.Background(), usr.ID)
	if err != nil {
		t.Fatalf("GetByID(): %v", err)
	}
	if refreshed.CheckPassword("OldStr0ngPwd!!") != nil {
		t.Error("expected original password to still verify")
	}
}
