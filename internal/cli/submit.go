package cli

import (
	"errors"
	"fmt"

	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	submitLength string
	submitTheme  string
)

func newSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Summarize a single document",
		Long: `Send one PDF, PNG or JPG file to the analysis service and print the summary
and improvement suggestions.

The file goes through the same checks as a drop onto the web workbench:
at most 10MB, and only PDF, PNG and JPG files are accepted.

Examples:
  docsum submit report.pdf
  docsum submit --length short scan.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}

	cmd.Flags().StringVarP(&submitLength, "length", "l", string(models.LengthMedium), "summary length (short, medium, long)")
	cmd.Flags().StringVar(&submitTheme, "theme", "", "terminal theme (dark, light); defaults to the saved preference")

	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if _, ok := models.ParseLengthOption(submitLength); !ok {
		return fmt.Errorf("invalid length %q (short, medium, long)", submitLength)
	}

	a, err := newApp(ctx, appOptions{logOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	theme, err := a.renderTheme(submitTheme)
	if err != nil {
		return err
	}
	renderer := preview.NewTerminalRenderer(cmd.OutOrStdout(), theme)

	wb := session.NewWorkbench("cli-"+uuid.NewString(), a.sessionDeps())
	defer wb.Close()
	wb.SetLengthOption(submitLength)

	desc, err := spoolPath(a.spool, args[0])
	if err != nil {
		return err
	}

	if isVerbose() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Submitting %s (%s, %d bytes) to %s\n", desc.Name, desc.MIMEType, desc.Size, a.client.BaseURL())
	}

	if _, err := wb.Drop(ctx, []models.FileDescriptor{desc}); err != nil {
		fmt.Fprint(cmd.OutOrStdout(), renderer.Render(wb.View()))
		var ve *preview.ValidationError
		if errors.As(err, &ve) {
			return errors.New(ve.Message)
		}
		return err
	}
	wb.Wait()

	view := wb.View()
	fmt.Fprint(cmd.OutOrStdout(), renderer.Render(view))
	return failureNotice(view)
}
