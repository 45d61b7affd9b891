package gen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// The directory generated files are written to. Each generator has its
	// own default.
	dir string
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for mbackup",
	Long:  `Generate documentation for mbackup`,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&dir, "dir", "", "the directory to write generated files to.")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}

	RootCmd.AddCommand(ManPagesCmd, MarkdownCmd)
}

func outDir(fallback string) string {
	if dir == "" {
		return fallback
	}

	return dir
}

// ensureDir creates path if it's missing and returns it with a trailing
// separator.
func ensureDir(path string) (string, error) {
	if !strings.HasSuffix(path, string(filepath.Separator)) {
		path += string(filepath.Separator)
	}

	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
		fmt.Println("Directory", path, "does not exist, creating...")
		if err := os.MkdirAll(path, 0750); err != nil {
			return "", err
		}
	}

	return path, nil
}
