package agentcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/neuroplastio/sensr-agent/internal/recordsvc"
	"github.com/neuroplastio/sensr-agent/pkg/agent"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "sensr"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string, opts ...agent.Option) *cobra.Command {
	cfg := agent.Config{
		DataDir:      filepath.Join(configDir, "data"),
		SettingsFile: filepath.Join(configDir, "sensr.yml"),
	}
	agentCmd := &cobra.Command{
		Use:          "sensr-agent",
		Short:        "SENSR listener agent",
		Long:         `The SENSR listener agent replays recorded SENSR messages to sample listeners.`,
		SilenceUsage: true,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	agentCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	agentCmd.PersistentFlags().StringVar(&cfg.SettingsFile, "config", cfg.SettingsFile, "settings file")
	agentCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg, opts...)
		return err
	}
	agentCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}
	agentCmd.AddCommand(NewRun(agentProvider))
	agentCmd.AddCommand(NewImport(agentProvider))
	agentCmd.AddCommand(NewDump(agentProvider))
	agentCmd.AddCommand(NewExamples(agentProvider))
	return agentCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	var (
		example  string
		realtime bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay recorded messages to a sample listener",
		Long:  `Replay recorded messages to one of the sample listeners: zone, point, object, health, time or bank.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions(cmd, example)
			if cmd.Flags().Changed("realtime") {
				opts.Realtime = &realtime
			}
			return agent().Run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&example, "example", "zone", "sample listener to run")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "keep the recorded spacing between messages")
	return cmd
}

func runOptions(cmd *cobra.Command, example string) agent.RunOptions {
	return agent.RunOptions{
		Example: example,
		Out:     cmd.OutOrStdout(),
		ErrOut:  cmd.ErrOrStderr(),
	}
}

func NewImport(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import recorded messages",
		Long:  `Import a YAML or JSON list of recorded messages into the agent's store.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := agent().Records().Import(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", n)
			return nil
		},
	}
}

func NewDump(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print recorded messages",
		Long:  `Print every recorded message as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []recordsvc.Record
			err := agent().Records().List(func(rec recordsvc.Record) error {
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
			b, err := yaml.MarshalWithOptions(records, yaml.UseJSONMarshaler())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func NewExamples(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List sample listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range agent().Examples() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
