package main

import (
	"context"
	"fmt"
	"os"
	"time"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/logging"
)

type connectionOptions struct {
	Port    int  `long:"port" description:"master port on the loopback interface" default:"50055"`
	Verbose bool `long:"verbose" short:"v" description:"log connection details"`
}

type statusCommand struct{}

type listCommand struct{}

type getCommand struct {
	Args struct {
		ID string `positional-arg-name:"id" required:"true"`
	} `positional-args:"true"`
}

type callCommand struct {
	Timeout time.Duration `long:"timeout" description:"call timeout" default:"5s"`
	Request string        `long:"request" description:"JSON request body" default:"{}"`
	Args    struct {
		ID     string `positional-arg-name:"id" required:"true"`
		Method string `positional-arg-name:"method" required:"true"`
	} `positional-args:"true"`
}

type restartCommand struct {
	Args struct {
		ID string `positional-arg-name:"id" required:"true"`
	} `positional-args:"true"`
}

type flagOptions struct {
	Connection connectionOptions `group:"Connection Options"`

	Status  statusCommand  `command:"status" description:"show master state and unit counts"`
	List    listCommand    `command:"list" description:"list registered units"`
	Get     getCommand     `command:"get" description:"show one unit"`
	Call    callCommand    `command:"call" description:"forward a business call to a unit"`
	Restart restartCommand `command:"restart" description:"restart a unit"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Output = "stderr"
	if !opts.Connection.Verbose {
		zapConfig.Level = "warn"
	}
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		zapLogger = zap.NewNop()
	}
	defer zapLogger.Sync()

	sugar := zapLogger.Sugar()
	coreLogger := coreLogging.NewLogger(
		logging.ModulePrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: sugar.Debugf,
			Infof:  sugar.Infof,
			Warnf:  sugar.Warnf,
			Errorf: sugar.Errorf,
		})
	logger := logging.NewLogger(logging.ModulePrefix("hsu-master-cli"), logging.NewZapLogFuncs(sugar))

	ctx := context.Background()

	connection, err := coreControl.NewConnection(coreControl.ConnectionOptions{
		AttachPort: opts.Connection.Port,
	}, coreLogger)
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer connection.Shutdown()

	// the core Ping answers once the master is serving
	coreGateway := coreControl.NewGRPCClientGateway(connection.GRPC(), coreLogger)
	retryPingOptions := control.RetryPingOptions{
		RetryAttempts: 5,
		RetryInterval: 1 * time.Second,
	}
	if err := control.RetryPing(ctx, coreGateway, retryPingOptions, logger); err != nil {
		fmt.Printf("Master is not reachable: %v\n", err)
		os.Exit(1)
	}

	client := control.NewGRPCClientGateway(connection.GRPC(), logger)

	if err := run(ctx, parser.Active, &opts, client); err != nil {
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, active *flags.Command, opts *flagOptions, client domain.Contract) error {
	if active == nil {
		return fmt.Errorf("no command given")
	}

	switch active.Name {
	case "status":
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Instance:   %s\n", status.InstanceID)
		fmt.Printf("State:      %s\n", status.State)
		fmt.Printf("Started at: %s\n", status.StartedAt.Format(time.RFC3339))
		for unitStatus, count := range status.Units {
			fmt.Printf("  %-10s %d\n", unitStatus, count)
		}

	case "list":
		units, err := client.ListUnits(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %-11s %-10s %-8s %-8s\n", "ID", "KIND", "STATUS", "PID", "RESTARTS")
		for _, unit := range units {
			fmt.Printf("%-24s %-11s %-10s %-8d %-8d\n", unit.ID, unit.Kind, unit.Status, unit.PID, unit.Restarts)
		}

	case "get":
		unit, err := client.GetUnit(ctx, opts.Get.Args.ID)
		if err != nil {
			return err
		}
		printUnit(unit)

	case "call":
		request := &structpb.Struct{}
		if err := protojson.Unmarshal([]byte(opts.Call.Request), request); err != nil {
			return fmt.Errorf("invalid request JSON: %w", err)
		}
		response, err := client.CallUnit(ctx, opts.Call.Args.ID, opts.Call.Args.Method, request, opts.Call.Timeout)
		if err != nil {
			return err
		}
		output, err := protojson.Marshal(response)
		if err != nil {
			return err
		}
		fmt.Println(string(output))

	case "restart":
		if err := client.RestartUnit(ctx, opts.Restart.Args.ID); err != nil {
			return err
		}
		fmt.Printf("Unit restarted: %s\n", opts.Restart.Args.ID)

	default:
		return fmt.Errorf("unknown command: %s", active.Name)
	}
	return nil
}

func printUnit(unit *domain.UnitInfo) {
	fmt.Printf("ID:           %s\n", unit.ID)
	fmt.Printf("Kind:         %s\n", unit.Kind)
	fmt.Printf("Status:       %s\n", unit.Status)
	fmt.Printf("Required:     %t\n", unit.Required)
	fmt.Printf("PID:          %d\n", unit.PID)
	fmt.Printf("Port:         %d\n", unit.Port)
	fmt.Printf("Restarts:     %d\n", unit.Restarts)
	fmt.Printf("Status since: %s\n", unit.StatusSince.Format(time.RFC3339))
	if !unit.LastCheck.IsZero() {
		fmt.Printf("Last check:   %s\n", unit.LastCheck.Format(time.RFC3339))
	}
	if unit.LastError != "" {
		fmt.Printf("Last error:   %s\n", unit.LastError)
	}
}
