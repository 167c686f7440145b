package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

// ChatCommand returns the chat command. It sends one message about a
// prior scan and prints the assistant's streamed response.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Ask a follow-up question about a scan",
		ArgsUsage: "<message>",
		Flags: append(ServerFlags(),
			&cli.StringFlag{
				Name:  "conversation-id",
				Usage: "Conversation to continue (a new one starts if omitted)",
			},
		),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("message required", 1)
	}
	message := strings.Join(c.Args().Slice(), " ")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.New()
	api, err := buildClient(c, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var lastResponse string
	handlers := stream.ChatHandlers{
		OnThinking: func(turn types.ChatTurn) {
			if isStderrTTY() {
				fmt.Fprintf(os.Stderr, "thinking (turn %s)...\n", turn.TurnID)
			}
		},
		OnResponse: func(turn types.ChatTurn) {
			lastResponse = turn.Response
			fmt.Println(turn.Response)
			// One question, one answer: stop reading once the turn lands.
			cancel()
		},
	}

	err = api.Chat(ctx, c.String("conversation-id"), message, handlers)
	if err != nil && !stream.IsCanceledError(err) {
		return cli.Exit(fmt.Sprintf("chat failed: %v", err), 1)
	}
	if lastResponse == "" {
		return cli.Exit("no response received", 1)
	}
	return nil
}
