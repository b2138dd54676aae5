package form_test

import (
	"os"
	"testing"

	"github.com/trezcool/studenthub/core"
	testutil "github.com/trezcool/studenthub/tests"
)

func TestMain(m *testing.M) {
	core.ParseEmailTemplates(testutil.NewConfig(), testutil.NopLogger{})
	os.Exit(m.Run())
}
