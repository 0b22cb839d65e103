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
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cheminee/go-docloader"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Long: `Print the configuration load would use, resolved from flags, environment
variables, the config file and defaults. The output is a valid config file.`,
		Args: cobra.NoArgs,
	}
	addLoadFlags(cmd.Flags())
	addMappingFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s := a.settings()
		if err := docloader.DefaultConfig(a.config(s)).Validate(); err != nil {
			return err
		}
		out, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return cmd
}
