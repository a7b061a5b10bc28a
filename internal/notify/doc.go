// Package notify delivers team reports to chat webhooks and renders them for
// the terminal.
//
// A Notifier turns a metrics.Report into one daily summary plus one real-time
// alert per critical or high anomaly, and hands them to a Dispatcher. Alerts
// whose anomaly ID was already sent within the cooldown window are skipped.
// The Dispatcher buffers deliveries (evicting the oldest when full) and
// retries transient webhook failures with exponential backoff; 4xx responses
// are dropped.
//
// Webhook types: slack (Block Kit), teams (MessageCard), http (raw JSON).
package notify
