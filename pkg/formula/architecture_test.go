package formula

import (
	"testing"

	"esgbu/testutil"
)

func TestFormulaDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "formula is a leaf package")
}
