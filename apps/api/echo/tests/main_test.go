package tests

import (
	"os"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/studenthub/apps/api/echo"
	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
	"github.com/trezcool/studenthub/core/user"
	emailsvc "github.com/trezcool/studenthub/services/email"
	"github.com/trezcool/studenthub/services/filestore"
	dummydb "github.com/trezcool/studenthub/storage/database/dummy"
	testutil "github.com/trezcool/studenthub/tests"
)

var (
	app     Server
	conf    *core.Config
	usrRepo user.Repository
	frmRepo form.Repository
	usrSvc  user.Service

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func TestMain(m *testing.M) {
	conf = testutil.NewConfig()

	mediaDir, err := os.MkdirTemp("", "studenthub-media")
	if err != nil {
		os.Exit(1)
	}
	conf.MediaRoot = mediaDir

	// set up DB & repos
	db, err := dummydb.Open()
	if err != nil {
		os.Exit(1)
	}
	usrRepo = dummydb.NewUserRepository(db)
	frmRepo = dummydb.NewFormRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc = user.NewServiceMock(usrRepo, mailSvc, conf)
	frmSvc := form.NewService(frmRepo, usrSvc, mailSvc, conf)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	form.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, testutil.NopLogger{})

	// set up server
	app = NewServer(
		ServerDeps{
			Conf:           conf,
			Logger:         testutil.NopLogger{},
			UserSvc:        usrSvc,
			FormSvc:        frmSvc,
			FileStore:      filestore.NewLocalStorage(conf),
			Validate:       validate,
			Translator:     translator,
			DisableReqLogs: true,
		},
	)

	// run tests
	code := m.Run()

	// clean up
	_ = os.RemoveAll(mediaDir)
	os.Exit(code)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
