package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func askCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question locally, as the bot would reply on LINE",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadLocalConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := a.buildIndex(ctx); err != nil {
				return err
			}

			reply := a.responder.Respond(ctx, strings.Join(args, " "))
			fmt.Println(reply.Text)
			if verbose {
				fmt.Fprintf(os.Stderr, "\noutcome: %s\n", reply.Outcome)
				if reply.Err != nil {
					fmt.Fprintf(os.Stderr, "error:   %v\n", reply.Err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the reply outcome and any error")
	return cmd
}
