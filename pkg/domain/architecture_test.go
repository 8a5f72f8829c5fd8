package domain

import (
	"testing"

	"esgbu/testutil"
)

// The domain package is imported by every store and by the service; it must
// stay free of implementation packages and external modules.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not depend on internal packages")
}

func TestDomainHasNoThirdPartyImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdPartyImportForbidden, "domain is stdlib only")
}
