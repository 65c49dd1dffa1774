package main

import (
	"context"
	"legionlaunch/cmd/legion/commands"
	"legionlaunch/lib/serviceutil"
	"legionlaunch/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(context.Background(), "legion-cli")
	telemetry.InitSlog(false)
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
