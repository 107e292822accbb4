// Command agentgraph runs the workflow orchestration service.
//
// Usage:
//
//	agentgraph serve                       # start the service
//	agentgraph serve --config config.yaml  # with a config file
//	agentgraph version                     # print version information
//	agentgraph health                      # probe a running instance
package main
