package statics

import (
	"testing"

	"energycore/testutil"
)

func TestReachesStorageThroughContracts(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.BackendImportForbidden, testutil.DriverImportForbidden),
		"storage is reached through pkg/domain and internal/blob")
}
