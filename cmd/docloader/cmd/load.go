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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cheminee/go-docloader"
)

func loadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <dataset>",
		Short: "Load a dataset into an index",
		Long: `Load a dataset into an index.

The dataset is read once per pass. Every document carries a copy of its
structure identifier and a note naming the pass, in its extra data.

Supported formats: text (one structure per line), ndjson (one JSON object per
line) and json (an array of objects). JSON records hold the structure in the
"smiles" field and optional extra data in the "extra_data" object.`,
		Args: cobra.ExactArgs(1),
	}
	addLoadFlags(cmd.Flags())
	addMappingFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s := a.settings()
		if s.Index == "" {
			return errors.New("missing --index")
		}
		format, err := docloader.ParseFormat(s.Format)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		metrics := newLoaderMetrics(reg)
		if s.MetricsAddr != "" {
			srv := serveMetrics(s.MetricsAddr, reg, a.logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}

		cfg := a.config(s)
		cfg.OnBatch = func(r docloader.BatchResult) {
			metrics.observe(s.Index, r)
		}
		loader, err := docloader.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		stats, err := loader.Run(ctx, docloader.FileDataset{Path: args[0], Format: format})
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d failed) in %d batches over %d passes\n",
			stats.DocsIndexed, stats.DocsFailed, stats.BatchesSubmitted, stats.PassesCompleted,
		)
		if err != nil {
			var berr *docloader.BatchError
			if errors.As(err, &berr) {
				return fmt.Errorf("%w; resume with --skip %d", err, berr.Offset)
			}
			return err
		}
		return nil
	}
	return cmd
}
