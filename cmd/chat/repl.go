package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/MegaGrindStone/agent-chat-ui/internal/transcript"
)

type repl struct {
	coord   *conversation.Coordinator
	printer *transcript.Printer
	out     io.Writer

	// printed holds the ids of messages already on screen.
	printed map[string]bool

	logger *slog.Logger
}

const helpText = `Commands:
  /mode [standard|multiAgent]  show or switch the mode
  /new [title]                 start a new chat
  /chats                       list the chats of the current mode
  /select <n>                  open chat n of /chats
  /delete <n>                  delete chat n of /chats
  /tools                       show or hide tool messages
  /clear                       clear the screen conversation
  /export <file>               write the conversation as markdown
  /quit                        leave
Anything else is sent as a message. Ctrl-C aborts a running request.`

var errQuit = errors.New("quit")

func newREPL(coord *conversation.Coordinator, out io.Writer, logger *slog.Logger) *repl {
	return &repl{
		coord:   coord,
		printer: transcript.NewPrinter(out, transcript.NewPalette()),
		out:     out,
		printed: make(map[string]bool),
		logger:  logger.With(slog.String("module", "repl")),
	}
}

// run reads lines from in until it is exhausted, /quit is entered or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	s := r.coord.State()
	r.printer.Notice("Mode: %s. Type /help for commands.", s.Mode)
	r.showConversation()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(r.out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, "/") {
			err = r.command(ctx, line)
		} else {
			err = r.send(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.printer.Notice("Error: %v", err)
		}
	}
}

// send runs one turn. Replies are printed as they arrive, and whatever the turn added besides them
// afterwards.
func (r *repl) send(ctx context.Context, content string) error {
	ctx = services.WithProgress(ctx, func(msg models.Message) {
		for _, visible := range conversation.VisibleMessages([]models.Message{msg}, r.coord.State().ShowToolMessages) {
			r.print(visible)
		}
	})

	if err := r.coord.SendMessage(ctx, content); err != nil {
		return err
	}

	for _, msg := range r.coord.VisibleMessages() {
		if msg.Role == models.RoleUser {
			r.printed[msg.ID] = true
			continue
		}
		r.print(msg)
	}
	return nil
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	r.logger.Debug("Command", slog.String("name", name), slog.String("arg", arg))

	switch name {
	case "/help":
		fmt.Fprintln(r.out, helpText)

	case "/quit", "/exit", "/q":
		return errQuit

	case "/mode":
		if arg == "" {
			r.printer.Notice("Mode: %s", r.coord.State().Mode)
			return nil
		}
		mode, err := models.ParseMode(arg)
		if err != nil {
			return err
		}
		if err := r.coord.SetMode(ctx, mode); err != nil {
			return err
		}
		r.printer.Notice("Mode: %s", mode)
		r.showConversation()

	case "/new":
		summary, err := r.coord.CreateNewChat(ctx, arg)
		if err != nil {
			return err
		}
		r.printer.Notice("Started %s.", summary.Title)
		r.showConversation()

	case "/chats":
		s := r.coord.State()
		r.printer.Summaries(s.ChatHistories, s.ActiveChatID)

	case "/select":
		summary, err := r.chatAt(arg)
		if err != nil {
			return err
		}
		if err := r.coord.SelectChat(ctx, summary.ID); err != nil {
			return err
		}
		r.printer.Notice("Opened %s.", summary.Title)
		r.showConversation()

	case "/delete":
		summary, err := r.chatAt(arg)
		if err != nil {
			return err
		}
		deleted, err := r.coord.DeleteChat(ctx, summary.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("chat %s was not found", summary.Title)
		}
		r.printer.Notice("Deleted %s.", summary.Title)

	case "/tools":
		r.coord.ToggleToolMessageVisibility()
		if r.coord.State().ShowToolMessages {
			r.printer.Notice("Tool messages shown.")
		} else {
			r.printer.Notice("Tool messages hidden.")
		}

	case "/clear":
		r.coord.ClearMessages()
		r.showConversation()

	case "/export":
		if arg == "" {
			return errors.New("usage: /export <file>")
		}
		return r.export(arg)

	default:
		return fmt.Errorf("unknown command %s, type /help", name)
	}
	return nil
}

// chatAt resolves a 1-based position of the /chats list.
func (r *repl) chatAt(arg string) (models.ChatSummary, error) {
	histories := r.coord.State().ChatHistories
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(histories) {
		return models.ChatSummary{}, fmt.Errorf("expected a chat number between 1 and %d", len(histories))
	}
	return histories[n-1], nil
}

func (r *repl) export(path string) error {
	s := r.coord.State()
	title := ""
	for _, summary := range s.ChatHistories {
		if summary.ID == s.ActiveChatID {
			title = summary.Title
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := transcript.WriteMarkdown(f, title, conversation.VisibleMessages(s.Messages, s.ShowToolMessages)); err != nil {
		return err
	}
	r.printer.Notice("Exported %d messages to %s.", len(s.Messages), path)
	return nil
}

// showConversation prints the whole visible conversation of the active chat.
func (r *repl) showConversation() {
	clear(r.printed)
	for _, msg := range r.coord.VisibleMessages() {
		r.print(msg)
	}
}

func (r *repl) print(msg models.Message) {
	if r.printed[msg.ID] {
		return
	}
	r.printed[msg.ID] = true
	r.printer.Message(msg)
}
