// Command healthprobe exits 0 when the MCP gRPC health service reports
// SERVING. Container health checks run it.
package main

import (
	"context"
	"flag"
	"os"

	platformcmd "github.com/louisbranch/qbo-mcp/internal/platform/cmd"
	"github.com/louisbranch/qbo-mcp/internal/platform/config"
	platformgrpc "github.com/louisbranch/qbo-mcp/internal/platform/grpc"
	"github.com/louisbranch/qbo-mcp/internal/platform/timeouts"
)

func main() {
	addr := flag.String("addr", os.Getenv("QBO_MCP_HEALTH_ADDR"), "gRPC health address")
	service := flag.String("service", platformcmd.ServiceMCP, "health service name")
	flag.Parse()
	if *addr == "" {
		config.Exitf("health address is required (-addr or QBO_MCP_HEALTH_ADDR)")
	}

	if err := platformgrpc.Probe(context.Background(), *addr, *service, timeouts.HealthCheck, nil); err != nil {
		config.Exitf("%s not serving: %v", platformcmd.ServiceHealthProbe, err)
	}
}
