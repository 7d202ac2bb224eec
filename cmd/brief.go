package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/stefanos11892/GVD-Engine/internal/brief"
	"github.com/stefanos11892/GVD-Engine/internal/docparse"
	"github.com/stefanos11892/GVD-Engine/internal/llm"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
	"github.com/stefanos11892/GVD-Engine/internal/retrieval"
)

var briefCmd = &cobra.Command{
	Use:   "brief <pdf>",
	Short: "Pitch, review and decide on a new idea from a document",
	Long:  "Runs the originator on the document, reviews the pitch with the analyst, risk officer and radar in parallel, and asks the architect for a BUY/PASS decision.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return err
		}

		theme, _ := cmd.Flags().GetString("theme")
		portfolioPath, _ := cmd.Flags().GetString("portfolio")
		partial, _ := cmd.Flags().GetBool("partial")
		format, _ := cmd.Flags().GetString("format")

		var portfolio string
		if portfolioPath != "" {
			b, err := os.ReadFile(portfolioPath)
			if err != nil {
				return eris.Wrap(err, "brief: read portfolio")
			}
			portfolio = string(b)
		}

		parser, err := docparse.NewParser(cfg.Parser, pdftext.NewPoppler(cfg.PDF))
		if err != nil {
			return err
		}
		doc, err := parser.Parse(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "brief: parse")
		}

		gen, err := llm.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer gen.Close() //nolint:errcheck

		res, err := brief.New(brief.NewAgents(gen), brief.WithPartial(partial)).Run(ctx, brief.Input{
			Theme:     theme,
			Material:  retrieval.Truncate(doc.Markdown, cfg.Audit.FallbackMaxChars),
			Portfolio: portfolio,
		})
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, format, res)
	},
}

func init() {
	briefCmd.Flags().String("theme", "", "what the originator should look for")
	briefCmd.Flags().String("portfolio", "", "file holding the current portfolio snapshot")
	briefCmd.Flags().Bool("partial", false, "continue when some reviewers fail")
	briefCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(briefCmd)
}
