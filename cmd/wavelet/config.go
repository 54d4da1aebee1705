/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wavelet-team/wavelet/server"
)

var configPath string

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [options]",
		Short: "Print the effective server configuration",
		Long: "Print the configuration a server would run with, after the config file " +
			"and the " + server.EnvPrefix + " environment variables are applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := server.NewConfigFromFile(configPath)
			if err != nil {
				return err
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			marshalled, err := yaml.Marshal(conf)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(marshalled))
			return nil
		},
	}
}

func init() {
	cmd := newConfigCmd()
	cmd.Flags().StringVarP(
		&configPath,
		"config",
		"c",
		"",
		"Config path",
	)

	rootCmd.AddCommand(cmd)
}
