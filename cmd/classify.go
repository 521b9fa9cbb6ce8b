package cmd

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/config"
	"github.com/example/boneguard/internal/logging"
	"github.com/example/boneguard/internal/presenter"
	"github.com/example/boneguard/internal/upload"
	"github.com/example/boneguard/internal/usecase"
)

func newClassifyCmd() *cobra.Command {
	var (
		url       string
		transport string
	)

	cmd := &cobra.Command{
		Use:   "classify <image>",
		Short: "Classify one X-ray image from the command line",
		Long: `Sends a JPEG or PNG image to the configured classification service and
prints the label and certainty, exactly as the result page would show them.`,
		Example: `  boneguard classify femur.jpg
  boneguard classify --url http://classifier:8000 hand.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if url != "" {
				cfg.ClassifierURL = url
			}
			if transport != "" {
				cfg.ClassifierTransport = strings.ToLower(transport)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			client, closeClient, err := newClassifier(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeClient() //nolint:errcheck

			uc := usecase.NewAnalysisUseCase(client, nil, nil, logger)
			controller := upload.New(uc, zap.NewNop(), upload.Options{SubmitTimeout: submitTimeout(cfg)})

			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
			if !controller.SelectFile(upload.Candidate{Name: filepath.Base(path), ContentType: contentType, Data: data}) {
				return fmt.Errorf("%s: only JPEG and PNG images are supported", path)
			}

			handoff, err := controller.Submit(cmd.Context())
			if err != nil {
				return err
			}
			if handoff == nil {
				return errors.New("nothing was submitted")
			}

			view := presenter.Render(handoff)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:      %s\n", view.FileName)
			fmt.Fprintf(out, "Label:     %s\n", view.Label)
			fmt.Fprintf(out, "Certainty: %d%%\n", view.ConfidencePercent)
			fmt.Fprintf(out, "Finding:   %s\n", view.Badge)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Classifier base URL (overrides CLASSIFIER_URL)")
	cmd.Flags().StringVar(&transport, "transport", "", "Classifier transport, http or grpc (overrides CLASSIFIER_TRANSPORT)")

	return cmd
}
