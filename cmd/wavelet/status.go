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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wavelet-team/wavelet/server/rpc"
)

var (
	statusToken   string
	statusTimeout time.Duration
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [options]",
		Short: "List the resident groups of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			resp, err := fetchGroups(ctx, serverAddr, statusToken)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.Style().Options.DrawBorder = false
			tw.Style().Options.SeparateColumns = false
			tw.Style().Options.SeparateFooter = false
			tw.Style().Options.SeparateHeader = false
			tw.Style().Options.SeparateRows = false
			tw.AppendHeader(table.Row{
				"KEY",
				"VERSION",
				"MEMBERS",
				"READ ONLY",
				"PENDING",
				"DEGRADED",
				"LAST ACTIVITY",
			})
			for _, g := range resp.Groups {
				tw.AppendRow(table.Row{
					g.Key,
					g.Version,
					g.Members,
					g.ReadOnly,
					g.Pending,
					g.Degraded,
					g.LastActivity.Format(time.RFC3339),
				})
			}
			cmd.Printf("process: %s\n", resp.ProcessID)
			cmd.Printf("%s\n", tw.Render())
			return nil
		},
	}
}

func fetchGroups(ctx context.Context, addr, token string) (*rpc.GroupsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+rpc.GroupsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get groups: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get groups: %s", res.Status)
	}

	resp := &rpc.GroupsResponse{}
	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return resp, nil
}

func init() {
	cmd := newStatusCmd()
	cmd.Flags().StringVar(
		&statusToken,
		"token",
		"",
		"Token of the admin endpoints when the server checks tokens",
	)
	cmd.Flags().DurationVar(
		&statusTimeout,
		"timeout",
		5*time.Second,
		"Timeout of the request",
	)

	rootCmd.AddCommand(cmd)
}
