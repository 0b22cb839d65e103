// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cheminee/go-docloader"
)

// app holds the state shared by the commands of one RootCmd.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
	tracer *apm.Tracer
}

// RootCmd returns the docloader command tree.
func RootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:     "docloader",
		Short:   "docloader bulk-loads structure datasets into an indexing service.",
		Version: docloader.Version,
		Long: `
docloader bulk-loads structure datasets into an indexing service.

Every flag can also be set in a YAML config file, passed with --config, or in
an environment variable prefixed with DOCLOADER_, e.g. DOCLOADER_BATCH_SIZE.

Example config file:

host: localhost:3000
scheme: http
index: meepity-beepity
schema: descriptor_v1
sort-by: exactmw
batch-size: 10000
passes: 5
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file.")
	flags.String("host", docloader.DefaultHost, "Address of the indexing service, optionally with a port.")
	flags.String("scheme", docloader.DefaultScheme, "URL scheme of the indexing service, http or https.")
	flags.Duration("timeout", 0, "Timeout of every request, 0 for none.")
	flags.Int("max-retries", 0, "Maximum number of retries of a request failing with 502, 503 or 504.")
	flags.Int("compression-level", 0, "Gzip level of bulk request bodies, 0 disables compression.")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.String("log-format", "console", "Log format: console or json.")
	flags.Bool("apm", false, "Trace requests with the Elastic APM agent, configured with ELASTIC_APM_* variables.")

	cmd.AddCommand(
		loadCmd(a),
		indexesCmd(a),
		bulkDeleteCmd(a),
		configCmd(a),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("docloader")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	// Flags of the command being run, including inherited persistent flags.
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if a.v.GetBool("apm") {
		tracer, err := apm.NewTracer("docloader", docloader.Version)
		if err != nil {
			return fmt.Errorf("failed to create APM tracer: %w", err)
		}
		a.tracer = tracer
	}
	logger, err := newLogger(a.v.GetString("log-format"), a.v.GetString("log-level"), a.tracer)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.tracer != nil {
		a.tracer.Flush(nil)
		a.tracer.Close()
	}
}

// newLogger creates a zap logger. json uses production settings, console
// uses development settings. Error logs are sent to tracer, if non-nil.
func newLogger(format, level string, tracer *apm.Tracer) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(l)
	}
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if tracer != nil {
		opts = append(opts, zap.WrapCore((&apmzap.Core{Tracer: tracer}).WrapCore))
	}
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
