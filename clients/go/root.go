package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eldtechnologies/pagechat/clients/go/pagechat"
)

var (
	serverURL string
	configDir string
	roomID    string
	roomKey   string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "pagechat",
	Short: "Terminal client for pagechat rooms",
	Long: `pagechat reads and posts to pagechat rooms. Run "pagechat chat" for the
interactive screen: it loads older messages as you scroll up and signs
you in on your first message.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("PAGECHAT_URL", pagechat.DefaultURL), "server URL ($PAGECHAT_URL)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", pagechat.DefaultConfigDir(), "config directory ($PAGECHAT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&roomID, "room", envOr("PAGECHAT_ROOM", pagechat.GlobalRoom), "room ID ($PAGECHAT_ROOM)")
	rootCmd.PersistentFlags().StringVar(&roomKey, "room-key", os.Getenv("PAGECHAT_ROOM_KEY"), "key of a private room ($PAGECHAT_ROOM_KEY)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd, readCmd, postCmd, registerCmd, logoutCmd,
		channelsCmd, createRoomCmd, whoCmd, healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *pagechat.Client {
	c := pagechat.NewClient(serverURL)
	c.RoomKey = roomKey
	return c
}

func newSession(c *pagechat.Client, name string) (*pagechat.Session, error) {
	return pagechat.NewSession(c, configDir, name)
}

// newLogger writes to a rotating file in the config directory; the
// terminal belongs to the chat screen.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return zerolog.Nop()
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(configDir, "pagechat.log"),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
