package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/pagechat/internal/feed"
	"github.com/eldtechnologies/pagechat/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [name]",
	Short: "Open the interactive chat screen",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		logger := newLogger()
		client := newClient()
		session, err := newSession(client, name)
		if err != nil {
			return err
		}

		ctrl := feed.New(client, client, session, feed.Options{
			RoomID: roomID,
			Logger: logger,
		})
		if err := ctrl.Start(ctx); err != nil {
			return err
		}
		defer ctrl.Close()

		roomName := ""
		if info, err := client.GetMessages(ctx, roomID, 1, 0); err == nil {
			roomName = info.Room.Name
		} else {
			logger.Warn().Err(err).Str("room", roomID).Msg("room lookup failed")
		}

		logger.Info().Str("url", serverURL).Str("room", roomID).Msg("chat started")
		return tui.Run(ctx, tui.Options{
			Controller: ctrl,
			Identity:   session,
			RoomName:   roomName,
			Logger:     logger,
		})
	},
}

var (
	readLimit  int
	readBefore int64
)

var readCmd = &cobra.Command{
	Use:   "read [room]",
	Short: "Print one page of messages, oldest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := roomID
		if len(args) > 0 {
			room = args[0]
		}

		resp, err := newClient().GetMessages(cmd.Context(), room, readLimit, readBefore)
		if err != nil {
			return err
		}
		for i := len(resp.Messages) - 1; i >= 0; i-- {
			msg := resp.Messages[i]
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			from := msg.From
			if len(from) > 8 {
				from = from[:8]
			}
			fmt.Printf("[%s] %s: %s\n", ts, from, msg.Body)
		}
		if resp.HasMore && len(resp.Messages) > 0 {
			oldest := resp.Messages[len(resp.Messages)-1]
			fmt.Printf("-- older: pagechat read --before %d\n", oldest.Timestamp)
		}
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post <message> [room]",
	Short: "Post a message, registering first if needed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := roomID
		if len(args) > 1 {
			room = args[1]
		}

		client := newClient()
		session, err := newSession(client, "")
		if err != nil {
			return err
		}
		ctrl := feed.New(nil, client, session, feed.Options{RoomID: room, Logger: newLogger()})
		defer ctrl.Close()

		if err := ctrl.Submit(cmd.Context(), args[0], session.Current()); err != nil {
			return err
		}
		fmt.Println("Posted")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Create and register a new agent keypair",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		session, err := newSession(newClient(), name)
		if err != nil {
			return err
		}
		if a := session.Current(); a != nil {
			fmt.Printf("Already registered as: %s\n", a.ID)
			return nil
		}

		res, err := session.SignIn(cmd.Context())
		if err != nil {
			return err
		}
		if res.Status != http.StatusOK {
			return fmt.Errorf("register failed (%d): %s", res.Status, res.Message)
		}
		fmt.Printf("Registered as: %s\n", session.Current().ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved agent credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession(newClient(), "")
		if err != nil {
			return err
		}
		if err := session.SignOut(); err != nil {
			return err
		}
		fmt.Println("Signed out")
		return nil
	},
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List public channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().ListChannels(cmd.Context())
		if err != nil {
			return err
		}
		for _, ch := range resp.Channels {
			fmt.Printf("  %s  %s (%d msgs)\n", ch.ID, ch.Name, ch.MessageCount)
		}
		return nil
	},
}

var (
	createPrivate bool
	createKey     string
)

var createRoomCmd = &cobra.Command{
	Use:   "create-room <name>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		session, err := newSession(client, "")
		if err != nil {
			return err
		}
		if session.Current() == nil {
			return fmt.Errorf("not registered, run: pagechat register <name>")
		}

		resp, err := client.CreateRoom(cmd.Context(), strings.TrimSpace(args[0]), createPrivate || createKey != "", createKey)
		if err != nil {
			return err
		}
		fmt.Printf("Created room %s (%s)\n", resp.Name, resp.ID)
		return nil
	},
}

var whoCmd = &cobra.Command{
	Use:   "who <agent_id>",
	Short: "Show an agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().GetAgent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	readCmd.Flags().IntVarP(&readLimit, "limit", "n", feed.DefaultPageSize, "messages per page")
	readCmd.Flags().Int64Var(&readBefore, "before", 0, "only messages older than this timestamp (ms)")

	createRoomCmd.Flags().BoolVar(&createPrivate, "private", false, "require a key to read and post")
	createRoomCmd.Flags().StringVar(&createKey, "key", "", "shared key of a private room (min 16 chars)")
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
