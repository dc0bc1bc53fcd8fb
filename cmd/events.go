/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roomhub/apiserver/config"
	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/mq"
	"github.com/roomhub/apiserver/internal/storage"
)

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect published domain events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch [channel]",
	Short: "Subscribe to the event broker and log every event",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Parse()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		channel := cfg.Events.Channel
		if len(args) == 1 {
			channel = args[0]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.New(ctx, cfg)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("no event broker configured, set EVENTS_BROKER")
		}
		defer func() {
			_ = broker.Close()
		}()

		logger.WithFields(logrus.Fields{"broker": cfg.Events.Broker, "channel": channel}).Info("watching events")
		err = broker.Subscribe(ctx, channel, logEvent(logger))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print an archived event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Parse()
		if err != nil {
			return err
		}

		archive, err := storage.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if archive == nil {
			return errors.New("no event archive configured, set EVENTS_ARCHIVE")
		}

		event, err := events.Fetch(cmd.Context(), archive, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(event, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

// logEvent acknowledges undecodable messages so they are not redelivered.
func logEvent(log logrus.FieldLogger) mq.Handler {
	return func(_ context.Context, msg mq.Message) error {
		event, err := events.Decode(msg)
		if err != nil {
			log.WithError(err).WithField("message_id", msg.ID).Warn("skipping undecodable message")
			return nil
		}
		log.WithFields(logrus.Fields{
			"event_id":    event.ID,
			"event_type":  event.Type,
			"subject_id":  event.SubjectID,
			"actor_id":    event.ActorID,
			"occurred_at": event.OccurredAt,
		}).Info("event received")
		return nil
	}
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
	eventsCmd.AddCommand(eventsShowCmd)
}
