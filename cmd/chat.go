package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/cyberrag/pkg/config"
	"github.com/xhad/cyberrag/pkg/llm"
	"github.com/xhad/cyberrag/pkg/pipeline"
)

const goodbye = "Exiting Cybersecurity RAG Bot. Goodbye!"

// chatSession is the part of the pipeline the REPL drives.
type chatSession interface {
	Process(ctx context.Context, query string, opts pipeline.ProcessOptions) pipeline.Answer
	StreamQuery(ctx context.Context, query string, opts pipeline.ProcessOptions) (*llm.Stream, []string, error)
	AddAssistantTurn(text string) error
	Reset()
}

func runChat(ctx context.Context, cfg *cfgPkg.Config, logger *slog.Logger) error {
	spinner := getSpinner("Loading pipeline...")
	rag, err := pipeline.NewWithConfig(ctx, cfg, logger)
	spinner.Finish()
	if err != nil {
		return err
	}
	defer rag.Close()

	color.Cyan("\nCybersecurity RAG Bot. Ask about pentesting, hacking and defense (type 'exit' to quit, 'reset' to clear history)")
	return chatLoop(ctx, os.Stdin, rag, cfg.UI.Streaming)
}

// chatLoop runs until exit/quit, end of input or ctx is cancelled.
func chatLoop(ctx context.Context, in io.Reader, rag chatSession, streaming bool) error {
	input := newLineReader(ctx, in)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		if ctx.Err() != nil {
			fmt.Println()
			color.Cyan(goodbye)
			return nil
		}

		userPrompt("\nYou: ")
		line, err := input.Next(ctx)
		if err != nil {
			fmt.Println()
			color.Cyan(goodbye)
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		query := strings.TrimSpace(line)
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			color.Cyan(goodbye)
			return nil
		case "reset":
			rag.Reset()
			color.Yellow("Conversation history cleared.")
			continue
		}

		if !streaming {
			spinner := getSpinner("Generating response...")
			answer := rag.Process(ctx, query, pipeline.ProcessOptions{})
			spinner.Finish()

			if !answer.Result.OK() {
				color.Red("%s", answer)
				continue
			}
			assistantPrompt("Assistant: %s\n", answer)
			continue
		}

		streamAnswer(ctx, rag, query, assistantPrompt)
	}
}

// streamAnswer prints fragments as they arrive and records the answer once
// the stream completed.
func streamAnswer(ctx context.Context, rag chatSession, query string, printf func(string, ...interface{})) {
	stream, _, err := rag.StreamQuery(ctx, query, pipeline.ProcessOptions{Stream: true})
	if err != nil {
		color.Red("Error: %v", err)
		return
	}
	defer stream.Close()

	printf("Assistant: ")
	var answer strings.Builder
	for stream.Next() {
		answer.WriteString(stream.Text())
		printf("%s", stream.Text())
	}
	fmt.Println()

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			color.Red("Error: %v", err)
		}
		return
	}
	if err := rag.AddAssistantTurn(answer.String()); err != nil {
		color.Red("Error: %v", err)
	}
}
