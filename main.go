package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/edgelesssys/go-cctrusted/sdk"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/exp/maps"
)

const (
	logLevelFlag      = "log-level"
	configFlag        = "config"
	teeFlag           = "tee"
	quoteProviderFlag = "quote-provider"
	eventLogFlag      = "eventlog"
	ccelTableFlag     = "ccel-table"
	ccnpFlag          = "ccnp"
	ccnpSocketFlag    = "ccnp-socket"
)

var (
	logLevels = map[string]logrus.Level{
		"panic": logrus.PanicLevel,
		"fatal": logrus.FatalLevel,
		"error": logrus.ErrorLevel,
		"warn":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"trace": logrus.TraceLevel,
	}

	log = logrus.WithField("service", "cctrusted")
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "cctrusted",
		Usage: "Collect and inspect confidential computing evidence (TDX quotes, RTMRs and the CC event log)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    logLevelFlag,
				Usage:   fmt.Sprintf("set log level. Possible: %v", strings.Join(maps.Keys(logLevels), ",")),
				Sources: cli.EnvVars("CCTRUSTED_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    configFlag,
				Usage:   "JSON config file, overridden by flags",
				Sources: cli.EnvVars("CCTRUSTED_CONFIG"),
			},
			&cli.StringFlag{
				Name:    teeFlag,
				Usage:   "TEE type (auto, tdx)",
				Sources: cli.EnvVars("CCTRUSTED_TEE"),
			},
			&cli.StringFlag{
				Name:    quoteProviderFlag,
				Usage:   "TDX quote provider (ioctl, configfs)",
				Sources: cli.EnvVars("CCTRUSTED_QUOTE_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    eventLogFlag,
				Usage:   "CC event log path",
				Sources: cli.EnvVars("CCTRUSTED_EVENTLOG"),
			},
			&cli.StringFlag{
				Name:    ccelTableFlag,
				Usage:   "CCEL ACPI table path",
				Sources: cli.EnvVars("CCTRUSTED_CCEL_TABLE"),
			},
			&cli.BoolFlag{
				Name:    ccnpFlag,
				Usage:   "request reports from the ccnp quote server",
				Sources: cli.EnvVars("CCTRUSTED_CCNP"),
			},
			&cli.StringFlag{
				Name:    ccnpSocketFlag,
				Usage:   "ccnp quote server socket",
				Sources: cli.EnvVars("CCTRUSTED_CCNP_SOCKET"),
			},
		},
		Commands: []*cli.Command{
			newReportCommand(),
			newParseCommand(),
			newTDReportCommand(),
			newMeasurementCommand(),
			newEventLogCommand(),
			newInfoCommand(),
		},
	}
}

// getConfig sets the log level and builds the SDK config from the config file and the global flags.
func getConfig(cmd *cli.Command) (sdk.Config, error) {
	setLogLevel(cmd.String(logLevelFlag))

	cfg := sdk.DefaultConfig()
	if cmd.IsSet(configFlag) {
		var err error
		cfg, err = sdk.LoadConfig(cmd.String(configFlag))
		if err != nil {
			return sdk.Config{}, err
		}
	}

	if cmd.IsSet(teeFlag) {
		cfg.Tee = cmd.String(teeFlag)
	}
	if cmd.IsSet(quoteProviderFlag) {
		cfg.QuoteProvider = cmd.String(quoteProviderFlag)
	}
	if cmd.IsSet(eventLogFlag) {
		cfg.EventLogPath = cmd.String(eventLogFlag)
	}
	if cmd.IsSet(ccelTableFlag) {
		cfg.CCELTablePath = cmd.String(ccelTableFlag)
	}
	if cmd.IsSet(ccnpFlag) {
		cfg.UseCCNP = cmd.Bool(ccnpFlag)
	}
	if cmd.IsSet(ccnpSocketFlag) {
		cfg.CCNPSocket = cmd.String(ccnpSocketFlag)
	}

	printConfig(cfg)
	return cfg, nil
}

func setLogLevel(level string) {
	if level == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return
	}
	l, ok := logLevels[strings.ToLower(level)]
	if !ok {
		log.Warnf("LogLevel %v does not exist. Default to info level", level)
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}

func printConfig(c sdk.Config) {
	log.Debugf("Config")
	log.Debugf("\tTee           : %v", c.Tee)
	log.Debugf("\tQuoteProvider : %v", c.QuoteProvider)
	log.Debugf("\tEventLogPath  : %v", c.EventLogPath)
	log.Debugf("\tCCELTablePath : %v", c.CCELTablePath)
	log.Debugf("\tUseCCNP       : %v", c.UseCCNP)
	log.Debugf("\tCCNPSocket    : %v", c.CCNPSocket)
}

func newSDK(cmd *cli.Command) (*sdk.SDK, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	return sdk.New(cfg)
}
