// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var cfgFile string
var apiURL string
var redisURL string
var bridgeURL string
var debugMode bool

// debugLogFile is the file handle for debug logging
var debugLogFile *os.File
var debugLogMu sync.Mutex
var debugLogInitOnce sync.Once

// initDebugLogFile initializes the debug log file
func initDebugLogFile() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return
	}

	logDir := filepath.Join(homeDir, ".replyforge", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return
	}

	logPath := filepath.Join(logDir, "debug.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}

	debugLogFile = f

	// Write session header
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(debugLogFile, "\n=== Debug session started: %s ===\n", timestamp)
}

// Debug prints a message if debug mode is enabled and writes to log file
func Debug(format string, args ...interface{}) {
	if debugMode {
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		msg := fmt.Sprintf(format, args...)

		// Print to console
		fmt.Printf("[DEBUG] %s\n", msg)

		// Write to file with timestamp
		debugLogMu.Lock()
		debugLogInitOnce.Do(initDebugLogFile)
		if debugLogFile != nil {
			fmt.Fprintf(debugLogFile, "[%s] %s\n", timestamp, msg)
		}
		debugLogMu.Unlock()
	}
}

// logFn bridges component log callbacks onto the CLI surface: warnings
// reach the terminal, everything else goes to the debug log.
func logFn(level, msg string) {
	switch level {
	case "warning", "error":
		fmt.Fprintln(os.Stderr, color.YellowString("! ")+msg)
	default:
		Debug("%s: %s", level, msg)
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "replyforge",
	Short: "ReplyForge is the companion agent for AI-assisted review replies",
	Long: `A CLI agent that connects your open review page to the ReplyForge
backend: it generates owner replies with AI, meters them against your
credit balance, and can work through a whole review list in one run.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.replyforge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", getEnvOrDefault("REPLYFORGE_API_URL", ""), "ReplyForge backend base URL")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", getEnvOrDefault("REPLYFORGE_REDIS_URL", ""), "Redis URL for job record watching")
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "bridge-url", "", "WebSocket URL of the page bridge")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}
