package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/stefanos11892/GVD-Engine/internal/coordinate"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <pdf>",
	Short: "Check a claimed value against the text inside a page region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		rawBox, _ := cmd.Flags().GetString("bbox")
		value, _ := cmd.Flags().GetString("value")
		format, _ := cmd.Flags().GetString("format")

		box, err := parseBBox(rawBox)
		if err != nil {
			return err
		}

		v := coordinate.New(pdftext.NewPoppler(cfg.PDF))
		defer v.Close() //nolint:errcheck

		res := v.Verify(cmd.Context(), args[0], page, box, value)
		if err := writeOutput(os.Stdout, format, res); err != nil {
			return err
		}

		switch {
		case res.Error != "":
			return eris.Errorf("verify: %s", res.Error)
		case !res.Match:
			return eris.New("verify: claimed value not found in region")
		}
		return nil
	},
}

// parseBBox reads "x0,y0,x1,y1" in PDF points.
func parseBBox(s string) (model.BBox, error) {
	var box model.BBox
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return box, eris.Errorf("verify: bbox %q must have four comma-separated numbers", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return box, eris.Wrapf(err, "verify: bbox component %d", i)
		}
		box[i] = f
	}
	return box.Normalize(), nil
}

func init() {
	verifyCmd.Flags().Int("page", 1, "1-based page number")
	verifyCmd.Flags().String("bbox", "", "region as x0,y0,x1,y1 in PDF points")
	verifyCmd.Flags().String("value", "", "claimed value to look for")
	verifyCmd.Flags().String("format", "json", "output format: json or yaml")
	_ = verifyCmd.MarkFlagRequired("bbox")
	_ = verifyCmd.MarkFlagRequired("value")
	rootCmd.AddCommand(verifyCmd)
}
