/*
main.go - Application entry point

PURPOSE:
  Starts the attendance engine: the HTTP API with its provisional-summary
  refresher, or one-shot batch commands.

COMMANDS:
  serve          HTTP server (default when no subcommand is given)
  run            Compute one month for all drivers or one driver
  continuation   Replay a month's carry-over and compare with the stored one

CONFIGURATION:
  --config points at a YAML file; ATTENDANCE_* environment variables
  override it. See config/config.go for every key.

EXAMPLES:
  # Serve with a file database
  ./server --config attendance.yaml

  # Compute December 2025 for driver 42
  ./server run --month 2025-12 --driver 42

  # Check November's carry-over
  ./server continuation --driver 42 --month 2025-11

SEE ALSO:
  - api/server.go: Router configuration
  - engine/pipeline.go: Driver-month pipeline
  - config/config.go: Configuration
*/
package main

func main() {
	Execute()
}
