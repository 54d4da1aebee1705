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
	"time"

	"github.com/spf13/cobra"

	"github.com/wavelet-team/wavelet/server/rpc/auth"
)

var (
	tokenSecret   string
	tokenDuration time.Duration
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [user]",
		Short: "Issue a client token for the given user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenSecret == "" {
				return errors.New("--auth-secret is required")
			}

			token, err := auth.NewTokenManager(tokenSecret, tokenDuration).Generate(args[0])
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
}

func init() {
	cmd := newTokenCmd()
	cmd.Flags().StringVar(
		&tokenSecret,
		"auth-secret",
		"",
		"Secret the server signs tokens with",
	)
	cmd.Flags().DurationVar(
		&tokenDuration,
		"duration",
		24*time.Hour,
		"Lifetime of the token",
	)

	rootCmd.AddCommand(cmd)
}
