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
	"errors"
	"fmt"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wavelet-team/wavelet/internal/version"
)

var output string

// VersionInfo is the version of the binary.
type VersionInfo struct {
	WaveletVersion string `json:"wavelet_version" yaml:"wavelet_version"`
	GitCommit      string `json:"git_commit" yaml:"git_commit"`
	GoVersion      string `json:"go_version" yaml:"go_version"`
	BuildDate      string `json:"build_date" yaml:"build_date"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Wavelet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			info := VersionInfo{
				WaveletVersion: version.Version,
				GitCommit:      version.GitCommit,
				GoVersion:      runtime.Version(),
				BuildDate:      version.BuildDate,
			}

			switch output {
			case "":
				cmd.Printf("Wavelet: %s\n", info.WaveletVersion)
				cmd.Printf("Commit: %s\n", info.GitCommit)
				cmd.Printf("Go: %s\n", info.GoVersion)
				cmd.Printf("Build Date: %s\n", info.BuildDate)
			case "yaml":
				marshalled, err := yaml.Marshal(&info)
				if err != nil {
					return errors.New("failed to marshal YAML")
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(marshalled))
			case "json":
				marshalled, err := json.MarshalIndent(&info, "", "  ")
				if err != nil {
					return errors.New("failed to marshal JSON")
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(marshalled))
			}

			return nil
		},
	}
}

func validateOutput(output string) error {
	if output != "" && output != "yaml" && output != "json" {
		return errors.New(`--output must be 'yaml' or 'json'`)
	}

	return nil
}

func init() {
	cmd := newVersionCmd()
	cmd.Flags().StringVarP(
		&output,
		"output",
		"o",
		output,
		"One of 'yaml' or 'json'.",
	)

	rootCmd.AddCommand(cmd)
}
