package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"linebot/internal/provider"
)

func indexCmd() *cobra.Command {
	var query string
	var topK int

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the document index and print its statistics",
		Long: `Loads, chunks and embeds the documents folder the same way 'serve' does.
With --query, also prints the best matching chunks for the query.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadLocalConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			builder, err := newBuilder(ctx, cfg, provider.NewFactory(cfg, logger), logger)
			if err != nil {
				return err
			}

			ix, err := builder.Build(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Generation:  %s\n", ix.ID())
			fmt.Printf("Documents:   %d\n", ix.Documents())
			fmt.Printf("Chunks:      %d\n", ix.Len())
			fmt.Printf("Embedder:    %s\n", ix.Embedder())
			fmt.Printf("Fingerprint: %s\n", ix.Fingerprint())

			if query == "" {
				return nil
			}
			results, err := ix.Search(ctx, query, topK)
			if err != nil {
				return err
			}
			fmt.Printf("\nTop %d for %q:\n", len(results), query)
			for i, r := range results {
				fmt.Printf("\n%d. %s (chunk %d, score %.3f)\n", i+1, r.Chunk.Source, r.Chunk.Index, r.Score)
				fmt.Printf("   %s\n", preview(r.Chunk.Text, 160))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "search the built index")
	cmd.Flags().IntVarP(&topK, "top", "k", 4, "number of results for --query")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
