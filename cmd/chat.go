package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/vision"
	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

func newChatCmd(c *cli) *cobra.Command {
	var (
		images      []string
		imageURLs   []string
		stream      bool
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, optionally with images, straight to the upstream model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !interactive {
				return errors.New("a message is required unless --interactive is set")
			}

			svc, err := newService(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer svc.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			if interactive {
				return repl(ctx, svc.vision, out)
			}

			p := domain.Prompt{Message: args[0], ImagePaths: images, ImageURLs: imageURLs}
			if stream {
				_, err := streamTurn(ctx, svc.vision, p, out)
				return err
			}
			res := svc.vision.Chat(ctx, p)
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Fprintln(out, res.Response)
			if res.Usage != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s, %d tokens]\n", res.Model, res.Usage.TotalTokens)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&images, "image", nil, "Image file to attach (repeatable)")
	cmd.Flags().StringArrayVar(&imageURLs, "image-url", nil, "Remote image to attach (repeatable)")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Print the reply as it arrives")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start an interactive streaming session")
	return cmd
}

// streamTurn prints fragments as they arrive and returns the model text.
func streamTurn(ctx context.Context, v *vision.Client, p domain.Prompt, out io.Writer) (string, error) {
	h, err := v.ChatStream(ctx, p)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for f, err := range h.All(ctx) {
		if err != nil {
			fmt.Fprintln(out)
			return b.String(), err
		}
		fmt.Fprint(out, f.Text)
		if !f.IsError() {
			b.WriteString(f.Text)
		}
	}
	fmt.Fprintln(out)
	return b.String(), nil
}

// repl keeps the conversation history between turns. "/image <path>"
// attaches an image to the next message.
func repl(ctx context.Context, v *vision.Client, out io.Writer) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(home, ".visionrelay_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(out, "Chatting with %s. /image <path> attaches an image, /exit quits.\n", v.Model())
	var (
		history []domain.Turn
		pending []string
	)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case strings.HasPrefix(line, "/image "):
			pending = append(pending, strings.TrimSpace(strings.TrimPrefix(line, "/image ")))
			fmt.Fprintf(out, "%d image(s) queued for the next message\n", len(pending))
			continue
		}

		fmt.Fprint(out, "model> ")
		reply, err := streamTurn(ctx, v, domain.Prompt{Message: line, History: history, ImagePaths: pending}, out)
		pending = nil
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "%s%s\n", domain.ErrorPrefix, domain.Describe(err))
			continue
		}
		history = append(history,
			domain.Turn{Role: domain.RoleUser, Content: line},
			domain.Turn{Role: domain.RoleAssistant, Content: reply},
		)
	}
}
