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

	"github.com/spf13/cobra"
)

func indexesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Manage indexes",
	}
	cmd.AddCommand(
		listIndexesCmd(a),
		createIndexCmd(a),
		deleteIndexCmd(a),
		mergeIndexCmd(a),
	)
	return cmd
}

func listIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(a.settings())
			if err != nil {
				return err
			}
			indexes, err := client.ListIndexes(cmd.Context())
			if err != nil {
				return err
			}
			for _, idx := range indexes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", idx.Name, idx.Schema)
			}
			return nil
		},
	}
}

func createIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <index>",
		Short: "Create an index",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().String("schema", "descriptor_v1", "Schema the index is created with.")
	cmd.Flags().String("sort-by", "", "Descriptor the index is sorted by.")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s := a.settings()
		client, err := a.client(s)
		if err != nil {
			return err
		}
		meta, err := client.CreateIndex(cmd.Context(), args[0], s.Schema, s.SortBy)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Index %s created with schema %s\n", meta.Name, meta.Schema)
		return nil
	}
	return cmd
}

func deleteIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index>",
		Short: "Delete an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(a.settings())
			if err != nil {
				return err
			}
			if _, err := client.DeleteIndex(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete index %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index %s deleted\n", args[0])
			return nil
		},
	}
}

func mergeIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <index>",
		Short: "Merge the segments of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(a.settings())
			if err != nil {
				return err
			}
			msg, err := client.MergeSegments(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to merge index %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}
