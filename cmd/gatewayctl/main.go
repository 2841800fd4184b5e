// Command gatewayctl runs and administers the agent gateway.
package main

import "github.com/agentgate/gateway/cmd/gatewayctl/cmd"

func main() {
	cmd.Execute()
}
