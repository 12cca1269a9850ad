// Package logger builds *slog.Logger instances for the billing services and
// the CLI.
//
// New takes functional options for format, level, output and static
// attributes. ContextExtractor callbacks are run on every record, which is how
// request identifiers end up in log lines without threading a logger through
// each call.
//
//	log := logger.New(
//		logger.WithEnvironment("production", "getkeys"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "plan changed", logger.UserID(id), logger.PlanID("pro_plan"))
//
// Attribute helpers in attr.go keep key names consistent across packages.
package logger
