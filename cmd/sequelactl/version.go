package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sequelacore/internal/core"
)

func newActivateCmd(a *app) *cobra.Command {
	var versionID, roundID int
	var validate bool
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Mark a set version active for a round",
		Long: `Activate points the (set, round) activation record at a version. By
default the version is validated first: every sequela with rei rows must
have a hierarchy row in the version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			active, res, err := a.svc.ActivateVersion(cmd.Context(), versionID, roundID, validate)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), res)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %d active for set %d round %d\n", active.VersionID, active.SetID, active.RoundID)
			printViolations(out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&versionID, "version", 0, "Set version id to activate")
	cmd.Flags().IntVar(&roundID, "round", 0, "Round id (default: configured default round)")
	cmd.Flags().BoolVar(&validate, "validate", true, "Validate the version before activating")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newBackfillCmd(a *app) *cobra.Command {
	var newID, oldID int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Copy hierarchy and rei rows between versions of a set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, res, err := a.svc.BackfillVersion(cmd.Context(), newID, oldID)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), res)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backfilled version %d from %d: %d hierarchy rows, %d rei rows\n",
				newID, oldID, counts.Hierarchy, counts.Rei)
			printViolations(out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&newID, "new", 0, "Version to fill")
	cmd.Flags().IntVar(&oldID, "old", 0, "Version to copy from")
	_ = cmd.MarkFlagRequired("new")
	_ = cmd.MarkFlagRequired("old")
	return cmd
}

func newAddVersionCmd(a *app) *cobra.Command {
	var in core.NewVersion
	cmd := &cobra.Command{
		Use:   "add-version",
		Short: "Create a set version, optionally backfilled from another",
		Long: `add-version creates a version of a set. With --backfill the hierarchy
and rei rows of that version are copied in; otherwise the new version gets
only its root row.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, counts, res, err := a.svc.AddVersion(cmd.Context(), in)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), res)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created version %d (%q) for set %d round %d\n",
				created.ID, created.Version, created.SetID, created.RoundID)
			if in.BackfillFrom != 0 {
				fmt.Fprintf(out, "backfilled from %d: %d hierarchy rows, %d rei rows\n",
					in.BackfillFrom, counts.Hierarchy, counts.Rei)
			}
			printViolations(out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&in.SetID, "set", 0, "Sequela set id")
	cmd.Flags().StringVar(&in.Version, "name", "", "Version name")
	cmd.Flags().StringVar(&in.Description, "description", "", "Version description")
	cmd.Flags().StringVar(&in.Justification, "justification", "", "Why the version was created")
	cmd.Flags().IntVar(&in.RoundID, "round", 0, "Round id (default: configured default round)")
	cmd.Flags().IntVar(&in.BackfillFrom, "backfill", 0, "Version of the same set to copy rows from")
	_ = cmd.MarkFlagRequired("set")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var versionID int
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every rei sequela has a hierarchy row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.ValidateVersion(cmd.Context(), versionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d is valid\n", versionID)
			return nil
		},
	}
	cmd.Flags().IntVar(&versionID, "version", 0, "Set version id to validate")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var versionID int
	var list bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a version's hierarchy and rei rows to the blob store",
		Long: `Export writes one JSON document per invocation under
versions/<version id>/<export id>.json in the configured blob store. With
--list the existing exports of the version are printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.blobs(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list {
				infos, err := a.svc.ListExports(ctx, versionID)
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(out, "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.Format(time.RFC3339))
				}
				return nil
			}
			info, err := a.svc.ExportVersion(ctx, versionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "exported version %d to %s (%d bytes)\n", versionID, info.Key, info.Size)
			return nil
		},
	}
	cmd.Flags().IntVar(&versionID, "version", 0, "Set version id to export")
	cmd.Flags().BoolVar(&list, "list", false, "List existing exports instead of writing one")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
