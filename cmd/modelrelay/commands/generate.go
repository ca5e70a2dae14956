package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/accumulator"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/dispatch"
	"github.com/modelrelay/modelrelay/internal/event"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/transport"
	"github.com/modelrelay/modelrelay/pkg/types"
)

var (
	genChannel   string
	genModel     string
	genStream    bool
	genNoStream  bool
	genSkipTools bool
	genSkipRetry bool
	genJSON      bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt...]",
	Short: "Run a single generation request",
	Long: `Send a prompt to a configured channel and print the response.

The prompt is read from the arguments, or from stdin when no arguments
are given.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genChannel, "channel", "c", "", "Channel ID to dispatch to (required)")
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "Override the channel's model")
	generateCmd.Flags().BoolVar(&genStream, "stream", false, "Force streaming")
	generateCmd.Flags().BoolVar(&genNoStream, "no-stream", false, "Force a blocking request")
	generateCmd.Flags().BoolVar(&genSkipTools, "skip-tools", false, "Do not attach tool declarations")
	generateCmd.Flags().BoolVar(&genSkipRetry, "skip-retry", false, "Fail on the first attempt")
	generateCmd.Flags().BoolVar(&genJSON, "json", false, "Print the full response as JSON")
	generateCmd.MarkFlagRequired("channel")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		data, err := readStdin()
		if err != nil {
			return err
		}
		prompt = strings.TrimSpace(data)
	}
	if prompt == "" {
		return fmt.Errorf("no prompt given")
	}

	store := config.NewStore(configDir, logging.For(logger, "config"))
	defer store.Close()

	client, err := transport.NewClient(store.ProxyURL(), logging.For(logger, "transport"))
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()

	dispatcher := dispatch.New(
		store,
		provider.DefaultRegistry(),
		dispatch.NewHTTPTransport(client),
		bus,
		logging.For(logger, "dispatch"),
	)

	req := &types.GenerateRequest{
		ChannelID:     genChannel,
		ModelOverride: genModel,
		SkipTools:     genSkipTools,
		SkipRetry:     genSkipRetry,
		History: []types.Message{
			{Role: "user", Parts: []*types.ContentPart{types.NewTextPart(prompt, false)}},
		},
	}
	if genStream {
		t := true
		req.Stream = &t
	}
	if genNoStream {
		f := false
		req.Stream = &f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go printRetries(ctx, bus)

	stream, err := dispatcher.StreamEnabled(req)
	if err != nil {
		return err
	}
	if stream {
		return streamToTerminal(ctx, dispatcher, store, req)
	}

	content, err := dispatcher.Generate(ctx, req)
	if err != nil {
		return err
	}
	return printContent(content)
}

// streamToTerminal prints text deltas as they arrive and the accumulated
// response afterwards when --json is set.
func streamToTerminal(ctx context.Context, dispatcher *dispatch.Dispatcher, store *config.Store, req *types.GenerateRequest) error {
	cfg, ok := store.Channel(req.ChannelID)
	if !ok {
		return types.NewRequestError(types.ErrConfig, "unknown channel: %s", req.ChannelID)
	}

	result, err := dispatcher.GenerateStream(ctx, req)
	if err != nil {
		return err
	}

	acc := accumulator.New(cfg.EffectiveToolMode())
	attempt := 0
	for ev := range result.Events() {
		if ev.Attempt > attempt {
			if attempt > 0 {
				fmt.Fprintln(os.Stderr, "\n[stream restarted]")
			}
			attempt = ev.Attempt
			acc.Reset()
		}
		acc.Add(ev.Chunk)
		for _, part := range ev.Chunk.Delta {
			if part.Kind == types.PartText && !part.Thought {
				fmt.Print(part.Text)
			}
		}
	}
	if err := result.Err(); err != nil {
		return err
	}
	fmt.Println()

	if genJSON {
		return printJSON(acc.Content())
	}
	return nil
}

func printContent(content *types.Content) error {
	if genJSON {
		return printJSON(content)
	}
	for _, part := range content.Parts {
		if part.Kind == types.PartText && !part.Thought {
			fmt.Println(part.Text)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRetries relays retry events to stderr while a request runs.
func printRetries(ctx context.Context, bus *event.Bus) {
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return
	}
	for ev := range events {
		switch ev.Type {
		case event.RetryAttempt:
			fmt.Fprintf(os.Stderr, "[retry %d/%d in %s: %s]\n", ev.Attempt, ev.MaxAttempts, ev.NextRetryIn, ev.Error)
		case event.RetryFailed:
			fmt.Fprintf(os.Stderr, "[retries exhausted after %d attempts]\n", ev.Attempt)
		}
	}
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
