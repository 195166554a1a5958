package cmd

import (
	"github.com/spf13/cobra"
	"os"
	"worker-notes/pkg/enhancer"
	"worker-notes/pkg/pdfrender"
)

func render() *cobra.Command {
	return &cobra.Command{
		Use:   "render <input.md> <output.pdf>",
		Short: "render a markdown file to pdf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			markdown, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pdf, err := pdfrender.New().Render(string(markdown))
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], pdf, 0o644)
		},
	}
}

func enhance() *cobra.Command {
	var crop bool
	cmd := &cobra.Command{
		Use:   "enhance <input-image> <output.png>",
		Short: "normalize a page photo into a black and white scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, err := enhancer.New(enhancer.WithDocumentDetection(crop)).Enhance(data)
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], out, 0o644)
		},
	}
	cmd.Flags().BoolVar(&crop, "crop", false, "detect the page outline and correct perspective first")
	return cmd
}
