package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zaptec-community/go-zaptec/pkg/config"
	"github.com/zaptec-community/go-zaptec/pkg/zaptec"
)

const usage = `usage: zaptecctl [flags] <command> [args]

Commands:
  login                               verify the credentials and exit
  list                                list installations and chargers
  dump [id]                           dump attributes of one or all objects
  state <charger-id>                  poll and dump the charger state
  command <charger-id> <command>      send a command to a charger
  authorize <charger-id>              authorize charging
  limit <installation-id> <amps> [amps amps]
                                      set the available current, one value
                                      for all phases or one per phase
  settings <charger-id> <key=value ...>
                                      update charger settings
  firmware <installation-id>          poll and show firmware status

Flags:
`

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: $ZAPTEC_CONFIG)")
	noRedact := flag.Bool("no-redact", false, "Show ids and other sensitive values in output")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Str("level", cfg.LogLevel).Msg("Invalid log level")
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	client := zaptec.NewClient(cfg.Username, cfg.Password, &zaptec.Options{
		DisableRedaction: *noRedact || !cfg.Redact,
	})

	if err := client.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to log in")
	}
	if err := client.Build(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to build account hierarchy")
	}

	if err := run(ctx, client, args[0], args[1:]); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

func run(ctx context.Context, client *zaptec.Client, command string, args []string) error {
	switch command {
	case "login":
		fmt.Printf("Logged in, %d installations and %d chargers visible\n",
			len(client.Installations()), len(client.Chargers()))
		return nil
	case "list":
		return runList(client)
	case "dump":
		return runDump(client, args)
	case "state":
		return runState(ctx, client, args)
	case "command":
		return runCommand(ctx, client, args)
	case "authorize":
		return runAuthorize(ctx, client, args)
	case "limit":
		return runLimit(ctx, client, args)
	case "settings":
		return runSettings(ctx, client, args)
	case "firmware":
		return runFirmware(ctx, client, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// charger resolves an argument to a registered charger.
func charger(client *zaptec.Client, id string) (*zaptec.Charger, error) {
	obj, ok := client.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown object %q", id)
	}
	chg, ok := obj.(*zaptec.Charger)
	if !ok {
		return nil, fmt.Errorf("%s is not a charger", obj.QualID())
	}
	return chg, nil
}

// installation resolves an argument to a registered installation.
func installation(client *zaptec.Client, id string) (*zaptec.Installation, error) {
	obj, ok := client.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown object %q", id)
	}
	inst, ok := obj.(*zaptec.Installation)
	if !ok {
		return nil, fmt.Errorf("%s is not an installation", obj.QualID())
	}
	return inst, nil
}

func runList(client *zaptec.Client) error {
	for _, inst := range client.Installations() {
		fmt.Printf("%s  %s  %s\n", inst.ID(), inst.QualID(), inst.Name())
		for _, chg := range inst.Chargers() {
			fmt.Printf("  %s  %s  %s  %s\n", chg.ID(), chg.QualID(), chg.Name(), chg.Model())
		}
	}
	for _, chg := range client.Chargers() {
		if chg.Installation() != nil {
			continue
		}
		fmt.Printf("%s  %s  %s  %s  (standalone)\n", chg.ID(), chg.QualID(), chg.Name(), chg.Model())
	}
	return nil
}

func runDump(client *zaptec.Client, args []string) error {
	ids := args
	if len(ids) == 0 {
		ids = client.IDs()
	}
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		obj, ok := client.Get(id)
		if !ok {
			return fmt.Errorf("unknown object %q", id)
		}
		out[obj.QualID()] = obj.AsDict()
	}
	log.Debug().RawJSON("redactions", []byte(client.Redactor().Dumps())).Msg("Redaction database")
	return printJSON(client.Redactor().SecondPass(out))
}

func runState(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("state takes exactly one charger id")
	}
	chg, err := charger(client, args[0])
	if err != nil {
		return err
	}
	if err := chg.PollState(ctx); err != nil {
		return err
	}
	return printJSON(client.Redactor().SecondPass(chg.AsDict()))
}

func runCommand(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("command takes a charger id and a command name")
	}
	chg, err := charger(client, args[0])
	if err != nil {
		return err
	}
	if err := chg.Command(ctx, args[1]); err != nil {
		return err
	}
	fmt.Printf("Sent %q to %s\n", args[1], chg.QualID())
	return nil
}

func runAuthorize(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("authorize takes exactly one charger id")
	}
	chg, err := charger(client, args[0])
	if err != nil {
		return err
	}
	if err := chg.AuthorizeCharge(ctx); err != nil {
		return err
	}
	fmt.Printf("Authorized charging on %s\n", chg.QualID())
	return nil
}

func runLimit(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) != 2 && len(args) != 4 {
		return fmt.Errorf("limit takes an installation id and one or three current values")
	}
	inst, err := installation(client, args[0])
	if err != nil {
		return err
	}

	values := make([]float64, 0, 3)
	for _, arg := range args[1:] {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid current %q: %w", arg, err)
		}
		values = append(values, v)
	}

	limit := zaptec.LimitCurrent{}
	if len(values) == 1 {
		limit.Available = &values[0]
	} else {
		limit.Phase1 = &values[0]
		limit.Phase2 = &values[1]
		limit.Phase3 = &values[2]
	}
	if err := inst.SetLimitCurrent(ctx, limit); err != nil {
		return err
	}
	fmt.Printf("Updated current limit on %s\n", inst.QualID())
	return nil
}

func runSettings(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("settings takes a charger id and at least one key=value pair")
	}
	chg, err := charger(client, args[0])
	if err != nil {
		return err
	}

	settings := make(map[string]any, len(args)-1)
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid setting %q, expected key=value", arg)
		}
		settings[key] = parseValue(value)
	}
	if err := chg.SetSettings(ctx, settings); err != nil {
		return err
	}
	fmt.Printf("Updated %d settings on %s\n", len(settings), chg.QualID())
	return nil
}

func runFirmware(ctx context.Context, client *zaptec.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("firmware takes exactly one installation id")
	}
	inst, err := installation(client, args[0])
	if err != nil {
		return err
	}
	if err := inst.PollFirmware(ctx); err != nil {
		return err
	}
	for _, chg := range inst.Chargers() {
		current := chg.GetString("firmware_current_version")
		available := chg.GetString("firmware_available_version")
		upToDate, _ := chg.Get("firmware_update_to_date")
		fmt.Printf("%s  current=%s available=%s up_to_date=%v\n",
			chg.QualID(), current, available, upToDate)
	}
	return nil
}

// parseValue turns a command line value into the type the API expects.
func parseValue(s string) any {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return s
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
