// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/signalk-analyst/services/analyst/answers"
)

func newHistoryCmd(state *cliState) *cobra.Command {
	history := &cobra.Command{
		Use:   "history",
		Short: "Browse answers stored by a running server",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent answers, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newAPIClient(state.server()).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if state.jsonOutput {
				return state.printJSON(items)
			}
			state.printer().Summaries(items)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", answers.DefaultListLimit, "number of answers to list")

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one stored answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newAPIClient(state.server()).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return state.printAnswer(resp)
		},
	}

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(state.server()).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			state.printer().Success("Deleted " + args[0])
			return nil
		},
	}

	history.AddCommand(list, get, del)
	return history
}
