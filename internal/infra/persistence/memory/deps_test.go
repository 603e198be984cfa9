package memory

import (
	"go/build"
	"strings"
	"testing"
)

// The in-memory store sits beneath every backend and may depend only on the
// domain package.
var allowedDomainImports = map[string]struct{}{
	"sequelacore/pkg/domain": {},
}

func TestImportsAreDomainOrStdlib(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if !strings.HasPrefix(imp, "sequelacore/") {
			continue
		}
		if _, ok := allowedDomainImports[imp]; ok {
			continue
		}
		t.Fatalf("unexpected dependency: %s", imp)
	}
}
