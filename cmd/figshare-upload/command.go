package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/figshare-uploader/config"
	"github.com/bitrise-io/figshare-uploader/figshare"
	"github.com/bitrise-io/figshare-uploader/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const envFileFlag = "env-file"

// flagKeys maps flags to the environment variables they override.
var flagKeys = map[string]string{
	"file":            config.FilePathKey,
	"title":           config.TitleKey,
	"base-url":        config.BaseURLKey,
	"token":           config.TokenKey,
	"concurrency":     config.ConcurrencyKey,
	"retry-max":       config.RetryMaxKey,
	"request-timeout": config.RequestTimeoutKey,
	"verbose":         config.VerboseKey,
}

func newRootCommand(envRepo env.Repository, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "figshare-upload",
		Short: "Upload a file to a figshare article",
		Long: `figshare-upload uploads a single file into the figshare article with the
given title, creating the article if the account has none with that title.

Settings come from flags, then FIGSHARE_* environment variables, then a dotenv file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return uploadFile(cmd, envRepo, stdout)
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.ConfigError{Key: "flags", Reason: err.Error()}
	})

	flags := cmd.Flags()
	flags.StringP("file", "f", "", "Path or glob pattern of the file to upload (or set FIGSHARE_FILE_PATH)")
	flags.StringP("title", "t", "", "Title of the target article (or set FIGSHARE_TITLE)")
	flags.StringP("base-url", "b", config.DefaultBaseURL, "API URL template with an {endpoint} placeholder (or set FIGSHARE_BASE_URL)")
	flags.String("token", "", "Personal access token (or set FIGSHARE_TOKEN)")
	flags.Int("concurrency", 1, "Number of parts uploaded at the same time (or set FIGSHARE_CONCURRENCY)")
	flags.Int("retry-max", 0, "Retries per HTTP request (or set FIGSHARE_RETRY_MAX)")
	flags.Duration("request-timeout", 0, "Timeout of a single HTTP request, 0 means none (or set FIGSHARE_REQUEST_TIMEOUT)")
	flags.Bool("verbose", false, "Enable debug logging (or set FIGSHARE_VERBOSE)")
	flags.String(envFileFlag, config.DefaultEnvFile, "Dotenv file to read settings from; required to exist when set")

	return cmd
}

func uploadFile(cmd *cobra.Command, envRepo env.Repository, stdout io.Writer) error {
	if err := applyFlags(cmd.Flags(), envRepo); err != nil {
		return err
	}

	envFile, err := cmd.Flags().GetString(envFileFlag)
	if err != nil {
		return err
	}
	if err := config.LoadEnvFile(envRepo, envFile, cmd.Flags().Changed(envFileFlag)); err != nil {
		return err
	}

	cfg, err := config.New(envRepo)
	if err != nil {
		return err
	}

	logger := log.NewLogger()
	logger.EnableDebugLog(cfg.Verbose)
	logConfig(logger, cfg)

	client := figshare.NewClient(figshare.NewHTTPClient(logger, cfg.RetryMax), cfg.BaseURL, string(cfg.Token), logger)
	client.SetRequestTimeout(cfg.RequestTimeout)

	res, err := upload.New(&cfg, client, logger).Run(cmd.Context())
	if err != nil {
		logger.Debugf("Upload stopped in state %s", res.State)
		return err
	}

	for _, file := range res.Files {
		if _, err := fmt.Fprintf(stdout, "%d - %s\n", file.ID, file.Name); err != nil {
			return err
		}
	}
	return nil
}

// applyFlags copies the explicitly set flags into envRepo, so they win over
// the environment and the dotenv file.
func applyFlags(flags *pflag.FlagSet, envRepo env.Repository) error {
	var err error
	flags.Visit(func(flag *pflag.Flag) {
		key, ok := flagKeys[flag.Name]
		if !ok || err != nil {
			return
		}
		if setErr := envRepo.Set(key, flag.Value.String()); setErr != nil {
			err = fmt.Errorf("set %s: %w", key, setErr)
		}
	})
	return err
}

func logConfig(logger log.Logger, cfg config.Config) {
	logger.Println()
	logger.Infof("Configs:")
	logger.Printf("- BaseURL: %s", cfg.BaseURL)
	logger.Printf("- Token: %s", cfg.Token)
	logger.Printf("- FilePath: %s", cfg.FilePath)
	logger.Printf("- Title: %s", cfg.Title)
	logger.Printf("- Concurrency: %d", cfg.Concurrency)
	logger.Printf("- RetryMax: %d", cfg.RetryMax)
	logger.Printf("- RequestTimeout: %s", cfg.RequestTimeout)
	logger.Println()
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, envRepo env.Repository, stdout, stderr io.Writer) int {
	cmd := newRootCommand(envRepo, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %s\n", err)
	var httpErr *figshare.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		fmt.Fprintf(stderr, "Response body: %s\n", httpErr.Body)
	}

	var configErr *config.ConfigError
	if errors.As(err, &configErr) {
		return 2
	}
	return 1
}
