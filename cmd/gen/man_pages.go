package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/mbackup/internal/meta"
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for mbackup",
	Long: `Generates up-to-date man pages for every mbackup command. By
default the pages are written to the "man" directory under the current
directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "mbackup Manual",
			Source:  fmt.Sprintf("mbackup %s", meta.Version),
		}

		dir, err := ensureDir(outDir("man"))
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating man pages in", dir, "...")

		if err := doc.GenManTree(cmd.Root(), header, dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown reference pages for mbackup",

	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := ensureDir(outDir("docs"))
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating markdown pages in", dir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}
