package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/chatsync/internal/archive"
	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/internal/session"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

func runExport(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	favorites, _ := cmd.Flags().GetBool("favorites")
	ids, _ := cmd.Flags().GetStringSlice("id")

	st, err := openStack(context.Background(), cfg, false)
	if err != nil {
		return err
	}
	defer st.close(context.Background())

	filter := models.ExportFilter{IDs: ids, Tag: tag, FavoriteOnly: favorites}
	records := st.manager.ExportSessions(filter)

	manifest, err := archive.WriteFile(args[0], records, filter)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	logger.Info("Exported sessions", "count", manifest.Count, "bundle", args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d sessions to %s\n", manifest.Count, args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	manifest, records, err := archive.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	logger.Debug("Read bundle", "created", manifest.CreatedAt, "count", manifest.Count)

	st, err := openStack(context.Background(), cfg, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), session.BulkTimeout(len(records)))
	defer cancel()

	res, importErr := st.manager.ImportSessions(ctx, records)
	// Save before close so a failure is reported rather than only logged
	saveErr := st.manager.Save(ctx)
	if err := st.close(context.Background()); err != nil {
		return err
	}
	if importErr != nil {
		return importErr
	}
	if saveErr != nil {
		return fmt.Errorf("failed to persist imported sessions: %w", saveErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, errors %d\n", res.Created, res.Updated, res.Errors)
	return nil
}
