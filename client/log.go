package client

// Logging convention in the `client` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of infrequent initialization data
//     that is useful for monitoring. this includes:
//     - remote call failures surfaced to the notification layer
//     - realtime channel connect/auth failures and reconnects
// V(1):
//     cache lifecycle events: invalidation, stale reads, refetches
// V(2):
//     per-call trace: fetch start/end, realtime frames, search generations
//
// frequent events should be summarized as statistics rather than logged
// per data point.
