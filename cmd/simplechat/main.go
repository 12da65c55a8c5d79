package main

import (
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stoday/simplechat/pkg/api"
	"github.com/stoday/simplechat/pkg/cache"
	"github.com/stoday/simplechat/pkg/events"
	"github.com/stoday/simplechat/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:   "simplechat",
	Short: "simplechat is a terminal client for the SimpleChat assistant backend",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	RunE: runChat,
}

type logConfig struct {
	Level     string
	LogFormat string
	LogFile   string
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:     logLevel,
		LogFile:   viper.GetString("log-file"),
		LogFormat: viper.GetString("log-format"),
	})
	cobra.CheckErr(err)
}

func InitLogger(config *logConfig) error {
	// default is json
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func initConfig() error {
	viper.SetEnvPrefix("simplechat")

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.simplechat")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/simplechat")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func newCredential() api.CredentialProvider {
	if token := viper.GetString("token"); token != "" {
		return api.StaticCredential(token)
	}
	return api.NewLoginCredential(
		viper.GetString("server"),
		viper.GetString("email"),
		viper.GetString("password"),
	)
}

func runChat(cmd *cobra.Command, args []string) error {
	server := viper.GetString("server")

	client := api.NewClient(server, newCredential())

	publisher := events.NewPublisherManager()
	router, err := events.NewEventRouter()
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	publisher.SubscribePublisher("ui", router.Publisher)

	orchestrator := session.New(client,
		session.WithCache(cache.New(cache.DefaultDir())),
		session.WithPublisher(publisher),
	)
	defer orchestrator.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runUI(ctx, orchestrator, router)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.simplechat/config.yml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "Backend server address")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (skips the login flow)")
	rootCmd.PersistentFlags().String("email", "", "Account email for the login flow")
	rootCmd.PersistentFlags().String("password", "", "Account password for the login flow")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	cobra.CheckErr(err)

	err = initConfig()
	cobra.CheckErr(err)
}
