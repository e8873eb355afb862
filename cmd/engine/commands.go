package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"prospect-engine/internal/config"
	"prospect-engine/internal/export"
	"prospect-engine/internal/ingest"
	"prospect-engine/internal/secrets"
)

var (
	tickQualify  bool
	qualifyLimit int
	exportFormat string
	exportLimit  int
	exportOut    string
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one campaign tick and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		seq, err := a.scheduler()
		if err != nil {
			return err
		}
		runner, err := a.runner(seq, tickQualify)
		if err != nil {
			return err
		}
		rep, err := runner.RunTick(cmd.Context())
		if rep.ID != "" {
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				return perr
			}
		}
		return err
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Import candidates from a CSV or JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := ingest.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := ingest.Import(cmd.Context(), a.db, recs, time.Now(), a.log.Named("ingest"))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, invalid %d\n", res.Created, res.Updated, res.Invalid)
		return nil
	},
}

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Enrich and score candidates whose qualification is missing or stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline().QualifyDue(cmd.Context(), qualifyLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write qualified candidates as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		qs, err := a.db.ListQualified(cmd.Context(), exportLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return export.Write(w, exportFormat, qs)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the engine configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config into the data dir if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.EnsureUserConfig(dataDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no config file given")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		_, vr := config.NormalizeAndValidate(cfg)
		for _, w := range vr.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Store credentials in the OS keychain",
}

var secretsIMAPCmd = &cobra.Command{
	Use:   "set-imap",
	Short: "Read the reply mailbox password from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return setSecret(cmd, secrets.IMAPKeyringAccount(a.cfg.Email))
	},
}

var secretsWebhookCmd = &cobra.Command{
	Use:   "set-webhook <channel>",
	Short: "Read a channel's webhook token from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		wh, ok := a.cfg.Channels.Webhooks[args[0]]
		if !ok {
			return fmt.Errorf("no webhook configured for channel %q", args[0])
		}
		return setSecret(cmd, secrets.WebhookKeyringAccount(args[0], wh))
	},
}

func setSecret(cmd *cobra.Command, account string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := secrets.Set(account, strings.TrimSpace(line)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "stored", account)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	tickCmd.Flags().BoolVar(&tickQualify, "qualify", true, "Qualify due candidates before advancing sequences")
	qualifyCmd.Flags().IntVar(&qualifyLimit, "limit", 100, "Maximum candidates to qualify")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json or csv")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 500, "Maximum rows")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")

	configCmd.AddCommand(configInitCmd, configValidateCmd)
	secretsCmd.AddCommand(secretsIMAPCmd, secretsWebhookCmd)
}
