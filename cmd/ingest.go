package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docchat/src/core/docchat"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a local document into a doc chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().String("tenant", "", "tenant id owning the chat")
	ingestCmd.Flags().String("instance", "", "doc chat instance id")
	_ = ingestCmd.MarkFlagRequired("tenant")
	_ = ingestCmd.MarkFlagRequired("instance")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	instance, _ := cmd.Flags().GetString("instance")

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	result, err := a.docChats.Ingest(ctx, docchat.IngestRequest{
		TenantID:    tenant,
		InstanceID:  instance,
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
		OnChunk: func(stored, total int) {
			mu.Lock()
			defer mu.Unlock()
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("embedding chunks"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			if stored > int(bar.State().CurrentNum) {
				_ = bar.Set(stored)
			}
		},
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil && result == nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ingested %s into %s: %d chunks (%s)\n", filepath.Base(path), result.FileID, result.ChunkCount, result.DocType)
	return err
}
