/*
Package log provides structured logging for the engine, built on zerolog.

A single global logger is initialized once at process start (level and output
format come from CLI flags) and child loggers carrying component or entity
fields are derived from it:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("scheduler")
	logger.Info().Str("task_uid", task.UID).Msg("task claimed")

Console output is the default; JSON output is available for machine ingestion.
*/
package log
