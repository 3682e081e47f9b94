/*
Package log wraps zerolog the way every long-lived coordinator in this
repo wants it: one process-wide Logger set up once by log.Init, and a
handful of With* helpers that return a decorated child logger for a
component, a node, a dataset, or a rendezvous flavour instead of
threading a *zerolog.Logger through every constructor.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	taskLog := log.WithComponent("task_manager")
	taskLog.Info().Str("dataset", name).Msg("shard requeued")

Fatal exits the process (os.Exit via zerolog's Fatal level) and is only
ever used for startup failures before any worker pool goroutine exists,
never from inside a request handler — handlers convert every failure to
a typed reply per the error-handling design (spec.md section 7).
*/
package log
