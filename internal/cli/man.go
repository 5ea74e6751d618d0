package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra/doc"
)

// GenerateManPages writes a man page per command under outDir, stamped
// with the build version.
func GenerateManPages(outDir string, build BuildInfo) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create man output directory: %w", err)
	}

	source := "bstore"
	if build.Version != "" {
		source = "bstore " + build.Version
	}
	header := &doc.GenManHeader{
		Title:   "BSTORE",
		Section: "1",
		Source:  source,
		Manual:  "bstore Manual",
	}

	root := NewRootCommand(io.Discard, build)
	if err := doc.GenManTree(root, header, outDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}

	return nil
}
