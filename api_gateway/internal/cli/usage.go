package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/api_gateway/internal/usage"
	"cryptofx/pkg/config"
	"cryptofx/pkg/kafka"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	u := &cobra.Command{Use: "usage", Short: "Follow usage milestone events"}
	u.AddCommand(newUsageTailCmd())
	return u
}

func newUsageTailCmd() *cobra.Command {
	var (
		brokers   []string
		topic     string
		group     string
		fromStart bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{Use: "tail", Short: "Print usage milestone events as they arrive", RunE: func(cmd *cobra.Command, args []string) error {
		if len(brokers) == 0 {
			brokers = config.GetEnvList("KAFKA_BROKERS", nil)
		}
		if len(brokers) == 0 {
			return errors.New("no brokers: pass --brokers or set KAFKA_BROKERS")
		}
		if group == "" {
			// A private group so tailing never steals partitions from real consumers.
			group = "cryptofx-cli-" + uuid.NewString()[:8]
		}

		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:   brokers,
			GroupID:   group,
			FromStart: fromStart,
		}, newLogger())
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Close() }()

		pingCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
		err = consumer.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("brokers unreachable: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := cmd.OutOrStdout()
		consumer.AddHandler(topic, usageHandler(w, format(w)))

		fmt.Fprintf(cmd.ErrOrStderr(), "Tailing %s on %v (group %s); Ctrl-C to stop\n", topic, brokers, group)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "Kafka seed brokers (default: $KAFKA_BROKERS)")
	cmd.Flags().StringVar(&topic, "topic", config.GetEnv("USAGE_TOPIC", usage.DefaultTopic), "usage topic")
	cmd.Flags().StringVar(&group, "group", "", "consumer group (default: a private group)")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "read from the oldest retained event")
	cmd.Flags().DurationVar(&timeout, "connect-timeout", 10*time.Second, "how long to wait for a broker before giving up")
	return cmd
}

// usageHandler prints each decoded usage event. Undecodable records are
// skipped so one bad record does not stall the partition.
func usageHandler(w io.Writer, format string) kafka.Handler {
	return func(_ context.Context, msg kafka.Message) error {
		ev, err := usage.Decode(msg.Value)
		if err != nil {
			fmt.Fprintf(w, "skipping offset %d: %v\n", msg.Offset, err)
			return nil
		}
		return printUsage(w, format, ev)
	}
}

func printUsage(w io.Writer, format string, ev ratelimit.UsageEvent) error {
	switch format {
	case "json", "yaml":
		return encodeLine(w, format, ev)
	default:
		_, err := fmt.Fprintf(w, "%s %-28s plan=%-5s hourly=%d daily=%d\n",
			ev.At.UTC().Format(time.RFC3339), ev.Subject, ev.Plan, ev.HourlyUsage, ev.DailyUsage)
		return err
	}
}
