package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	chatapp "github.com/nava40a/chat-app"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <peer-id>",
	Short: "Open a live conversation with a peer",
	Long:  "Connect to the realtime endpoint, merge the stored history for the peer,\nand exchange messages. Type a line to send it; Ctrl-C or EOF leaves.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("peer id must be numeric: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session, err := requireSession(cfg)
		if err != nil {
			return err
		}
		cache, err := openCache()
		if err != nil {
			return err
		}

		client := newAPIClient(cfg)
		profiles, err := chatapp.NewProfileCache(client, 64)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conn := client.Realtime()
		state, err := chatapp.NewClientState(*session, cache, conn)
		if err != nil {
			return err
		}
		defer state.Close()
		if err := state.SetActivePeer(peerID); err != nil {
			return err
		}

		printer := &messagePrinter{
			ctx:      ctx,
			self:     *session,
			peerID:   peerID,
			profiles: profiles,
		}
		unsubState := state.OnChange(func(ch chatapp.Change) {
			if ch.Kind == chatapp.ChangeMessages && ch.PeerID == peerID {
				printer.printNew(state.Messages(peerID))
			}
			if ch.Kind == chatapp.ChangePresence && ch.PeerID == peerID {
				fmt.Printf("* peer is %s\n", state.PresenceOf(peerID))
			}
		})
		defer unsubState()

		unsubConn := conn.Subscribe(nil, func(sc chatapp.StateChange) {
			if sc.State == chatapp.StateClosed {
				fmt.Println(color.YellowString("* connection closed (%s)", sc.Reason))
				stop()
			}
		})
		defer unsubConn()

		if err := conn.Connect(ctx, session); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer conn.Close(context.Background())

		if history, err := client.History(ctx, peerID); err != nil {
			fmt.Println(color.YellowString("* history unavailable: %v", err))
		} else if err := state.MergeHistory(peerID, history); err != nil {
			fmt.Println(color.YellowString("* history not fully persisted: %v", err))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				content := strings.TrimSpace(scanner.Text())
				if content == "" {
					continue
				}
				if _, err := state.SendMessage(gctx, peerID, content); err != nil {
					fmt.Println(color.RedString("* send failed: %v", err))
				}
			}
			stop()
			return scanner.Err()
		})
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
		return g.Wait()
	},
}

// messagePrinter renders the tail of the conversation log as it grows.
type messagePrinter struct {
	ctx      context.Context
	self     chatapp.Session
	peerID   int64
	profiles *chatapp.ProfileCache

	mu      sync.Mutex
	printed int
}

func (p *messagePrinter) printNew(msgs []chatapp.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > len(msgs) {
		// The log was resorted shorter than what we printed; start over.
		p.printed = 0
	}
	for _, m := range msgs[p.printed:] {
		fmt.Printf("%s %s: %s\n",
			m.CreatedAt.Local().Format("15:04"),
			p.senderName(m.SenderID),
			m.Content,
		)
	}
	p.printed = len(msgs)
}

func (p *messagePrinter) senderName(senderID int64) string {
	if senderID == p.self.UserID {
		return color.CyanString("you")
	}
	if u, err := p.profiles.Get(p.ctx, senderID); err == nil {
		return color.MagentaString(u.Username)
	}
	return color.MagentaString("user " + strconv.FormatInt(senderID, 10))
}
