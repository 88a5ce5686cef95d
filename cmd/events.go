package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docchat/src/core/docchat"
	"docchat/src/infrastructure/events"
	"docchat/src/log"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow document chat events from the message broker",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	pubsub, err := openEvents()
	if err != nil {
		return err
	}
	defer pubsub.Close()

	if pubsub.Subscriber == nil {
		return fmt.Errorf("events backend is disabled; set events.backend to amqp")
	}

	out := cmd.OutOrStdout()
	router, err := events.NewRouter(
		pubsub.Subscriber,
		[]string{docchat.TopicDocumentIngested, docchat.TopicInstanceDeleted},
		func(topic string, payload json.RawMessage) error {
			log.V(1).Info("Event received", "topic", topic)
			_, err := fmt.Fprintf(out, "%s\t%s\n", topic, payload)
			return err
		},
		log.WatermillAdapter(log.WithName("watermill")),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Following events")
	return router.Run(ctx)
}
