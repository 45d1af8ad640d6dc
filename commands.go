package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/edgelesssys/go-cctrusted/tdx"
	"github.com/edgelesssys/go-cctrusted/tdx/types"
	"github.com/urfave/cli/v3"
)

const (
	nonceFlag   = "nonce"
	dataFlag    = "data"
	outFlag     = "out"
	inFlag      = "in"
	versionFlag = "version"
	indexFlag   = "index"
	algFlag     = "alg"
	startFlag   = "start"
	countFlag   = "count"
	replayFlag  = "replay"
)

func newReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "request a quote bound to a nonce and user data",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: nonceFlag, Usage: "base64 encoded nonce"},
			&cli.StringFlag{Name: dataFlag, Usage: "base64 encoded user data"},
			&cli.StringFlag{Name: outFlag, Usage: "write the raw quote to this file instead of printing it base64 encoded"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.GetCCReport(ctx, cmd.String(nonceFlag), cmd.String(dataFlag), nil)
			if err != nil {
				return err
			}
			log.Infof("Got %v report generated at %v", report.TeeType, report.GeneratedAt)

			if cmd.IsSet(outFlag) {
				if err := os.WriteFile(cmd.String(outFlag), report.Quote, 0o644); err != nil {
					return fmt.Errorf("writing quote: %w", err)
				}
			} else {
				fmt.Fprintln(cmd.Root().Writer, base64.StdEncoding.EncodeToString(report.Quote))
			}
			s.DumpCCReport(report.Quote)
			return nil
		},
	}
}

func newParseCommand() *cli.Command {
	return &cli.Command{
		Name:  "parse",
		Usage: "decode a TDX quote and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: inFlag, Usage: "raw quote file", Required: true},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			setLogLevel(cmd.String(logLevelFlag))

			raw, err := os.ReadFile(cmd.String(inFlag))
			if err != nil {
				return fmt.Errorf("reading quote: %w", err)
			}
			quote, err := types.ParseQuote(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, quote)
		},
	}
}

func newTDReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "tdreport",
		Usage: "decode a raw TD report and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: inFlag, Usage: "raw TD report file", Required: true},
			&cli.StringFlag{Name: versionFlag, Usage: "TDX module version of the report (1.0, 1.5)", Value: tdx.Version15.String()},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			setLogLevel(cmd.String(logLevelFlag))

			version, err := parseVersion(cmd.String(versionFlag))
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(cmd.String(inFlag))
			if err != nil {
				return fmt.Errorf("reading TD report: %w", err)
			}
			report, err := types.ParseTDReport(raw, version)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, report)
		},
	}
}

func newMeasurementCommand() *cli.Command {
	return &cli.Command{
		Name:  "measurement",
		Usage: "print a runtime measurement register",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: indexFlag, Usage: "register index"},
			&cli.StringFlag{Name: algFlag, Usage: "digest algorithm", Value: "sha384"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			alg, err := tcg.AlgorithmByName(cmd.String(algFlag))
			if err != nil {
				return err
			}
			s, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.GetCCMeasurement(int(cmd.Int(indexFlag)), alg.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, m)
			return nil
		},
	}
}

func newEventLogCommand() *cli.Command {
	return &cli.Command{
		Name:  "eventlog",
		Usage: "list or replay the CC event log",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: startFlag, Usage: "index of the first event"},
			&cli.IntFlag{Name: countFlag, Usage: "number of events"},
			&cli.BoolFlag{Name: replayFlag, Usage: "replay the selected events and check the result against the registers"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			s, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var params []int
			if cmd.IsSet(startFlag) || cmd.IsSet(countFlag) {
				params = append(params, int(cmd.Int(startFlag)))
			}
			if cmd.IsSet(countFlag) {
				params = append(params, int(cmd.Int(countFlag)))
			}
			events, err := s.GetCCEventLog(params...)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if !cmd.Bool(replayFlag) {
				printEvents(w, events)
				return nil
			}

			results, err := s.ReplayCCEventLog(events)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(w, "IMR[%d] %v verified=%v\n", r.IMRIndex, r.Digest, r.Verified)
			}
			return nil
		},
	}
}

func newInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "print the TEE type and its measurement registers",
		Action: func(_ context.Context, cmd *cli.Command) error {
			s, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			count, err := s.GetMeasurementCount()
			if err != nil {
				return err
			}
			alg, err := s.GetDefaultAlgorithm()
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			fmt.Fprintf(w, "TEE:                   %v\n", s.TeeType())
			if version, err := tdx.DetectVersion(); err == nil {
				fmt.Fprintf(w, "TDX version:           %v\n", version)
			} else {
				log.WithError(err).Debug("TDX version not detected")
			}
			fmt.Fprintf(w, "Default algorithm:     %v\n", alg)
			fmt.Fprintf(w, "Measurement registers: %d\n", count)
			return nil
		},
	}
}

func parseVersion(name string) (tdx.Version, error) {
	for _, v := range []tdx.Version{tdx.Version10, tdx.Version15} {
		if v.String() == name {
			return v, nil
		}
	}
	return tdx.VersionUnknown, fmt.Errorf("unknown TDX version %q", name)
}

func printEvents(w io.Writer, events []tcg.IMREvent) {
	for i, event := range events {
		fmt.Fprintf(w, "%d: IMR %d %v\n", i, event.IMRIndex, event.EventType)
		for _, d := range event.Digests {
			fmt.Fprintf(w, "    %v\n", d)
		}
		if len(event.Event) > 0 {
			fmt.Fprintf(w, "    event: %s\n", hex.EncodeToString(event.Event))
		}
	}
}

func printJSON(w io.Writer, v any) error {
	prettyPrint, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(prettyPrint))
	return nil
}
